package realtime

import (
	"sort"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
)

// Join records membership in a room and announces it to the gateway. Joining
// an already-joined room is a no-op: no duplicate join frame is sent. The
// membership is re-asserted automatically after every successful reconnect.
func (s *Session) Join(roomID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if _, joined := s.rooms[roomID]; joined {
		s.mu.Unlock()
		return nil
	}
	s.rooms[roomID] = struct{}{}
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		// Recorded; the join frame goes out on the next successful connect.
		return nil
	}
	return s.writeMembership(events.JoinRoom, roomID)
}

// Leave removes membership in a room. Leaving a room that was never joined is
// a no-op.
func (s *Session) Leave(roomID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if _, joined := s.rooms[roomID]; !joined {
		s.mu.Unlock()
		return nil
	}
	delete(s.rooms, roomID)
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.writeMembership(events.LeaveRoom, roomID)
}

// Rooms returns the rooms the session currently considers joined, sorted.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

package realtime

import (
	"context"
	"time"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
)

// OnUserInput is called on every keystroke-equivalent for a room. The first
// input emits typing_start immediately; every input re-arms the single idle
// timer for the room, and the timer's expiry emits typing_stop. The stop
// signal is debounced, not the start.
func (s *Session) OnUserInput(roomID string) {
	s.mu.Lock()
	if s.closed || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	ts := s.typing[roomID]
	if ts == nil {
		ts = &typingState{}
		s.typing[roomID] = ts
	}
	first := !ts.active
	ts.active = true
	// One pending timer per room: re-arm, never stack.
	if ts.timer != nil {
		ts.timer.Stop()
	}
	ts.timer = time.AfterFunc(s.cfg.TypingIdleTimeout, func() { s.typingIdle(roomID) })
	conn := s.conn
	s.mu.Unlock()

	if first {
		if err := s.writeTyping(conn, events.TypingStart, roomID); err != nil {
			s.log.Warn("Typing start signal failed", "room_id", roomID, "error", err)
		}
	}
}

// typingIdle fires when the idle timer elapses with no further input.
func (s *Session) typingIdle(roomID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ts := s.typing[roomID]
	if ts == nil || !ts.active {
		s.mu.Unlock()
		return
	}
	ts.active = false
	ts.timer = nil
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}
	if err := s.writeTyping(conn, events.TypingStop, roomID); err != nil {
		s.log.Warn("Typing stop signal failed", "room_id", roomID, "error", err)
	}
}

// resetTypingLocked cancels every pending idle timer. Used on transport drops:
// the server's typing state did not survive the disconnect, so a late
// typing_stop would be meaningless.
func (s *Session) resetTypingLocked() {
	for _, ts := range s.typing {
		if ts.timer != nil {
			ts.timer.Stop()
		}
	}
	s.typing = make(map[string]*typingState)
}

func (s *Session) writeTyping(conn Conn, name, roomID string) error {
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	ev, err := events.New(name, events.TypingPayload{RoomID: roomID})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ev)
}

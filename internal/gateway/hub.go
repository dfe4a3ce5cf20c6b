// Package gateway implements the server side of the realtime channel: it
// upgrades WebSocket connections, tracks room membership, persists the
// message stream, and fans events out to room members.
package gateway

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
)

// Hub tracks which clients are in which rooms and fans events out to them.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	log   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		log:   log,
	}
}

// Join adds a client to a room. Joining a room the client is already in is a
// no-op; membership is only announced when it actually changes.
func (h *Hub) Join(roomID string, c *Client) {
	h.mu.Lock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	if _, already := members[c]; already {
		h.mu.Unlock()
		return
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("client joined room", "room_id", roomID, "user_id", c.userID)
	h.announceMembership(roomID, c.userID)
}

// Leave removes a client from a room. Leaving a room the client is not in is
// a no-op.
func (h *Hub) Leave(roomID string, c *Client) {
	h.mu.Lock()
	members, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, in := members[c]; !in {
		h.mu.Unlock()
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	h.log.Info("client left room", "room_id", roomID, "user_id", c.userID)
	h.announceMembership(roomID, c.userID)
}

// Remove drops a client from every room it is in, announcing each departure.
// Called when the connection closes.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	var left []string
	for roomID, members := range h.rooms {
		if _, in := members[c]; in {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
			left = append(left, roomID)
		}
	}
	h.mu.Unlock()

	for _, roomID := range left {
		h.announceMembership(roomID, c.userID)
	}
}

// InRoom reports whether the client is currently a member of the room.
func (h *Hub) InRoom(roomID string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, in := h.rooms[roomID][c]
	return in
}

// Members returns the sorted user IDs currently in the room.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.membersLocked(roomID)
}

func (h *Hub) membersLocked(roomID string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for c := range h.rooms[roomID] {
		if _, ok := seen[c.userID]; ok {
			continue
		}
		seen[c.userID] = struct{}{}
		ids = append(ids, c.userID)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast enqueues an event for every client in the room. A nil except
// delivers to everyone, including the sender.
func (h *Hub) Broadcast(roomID string, ev events.Event, except *Client) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if c != except {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(ev)
	}
}

func (h *Hub) announceMembership(roomID, userID string) {
	ev := events.MustNew(events.MembersChanged, events.MembershipPayload{
		RoomID:  roomID,
		UserID:  userID,
		Members: h.Members(roomID),
	})
	h.Broadcast(roomID, ev, nil)
}

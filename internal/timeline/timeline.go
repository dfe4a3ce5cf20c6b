// Package timeline derives ordered, deduplicated per-room message state from
// the raw realtime event stream. The projection is recomputable client state,
// never the source of truth.
package timeline

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/domain"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
)

// DefaultPendingPatches bounds how many early patch events (edit, reaction,
// read) are buffered per room while their base message is still unknown.
const DefaultPendingPatches = 32

type roomTimeline struct {
	order   []*domain.Message // chronological; ties broken by arrival order
	byID    map[string]*domain.Message
	pending *pendingRing
}

// Projection maintains per-room message timelines fed by the event router.
//
// Patch events whose base message has not arrived yet (a reconnect race, or an
// edit delivered before the initial history load) are buffered in a bounded
// ring and replayed once the identifier appears; when the ring overflows the
// oldest pending patch is dropped with a log line.
type Projection struct {
	log        *slog.Logger
	pendingCap int

	mu    sync.Mutex
	rooms map[string]*roomTimeline
	subs  []*events.Subscription
}

// NewProjection creates an empty projection. A nil logger falls back to
// slog.Default.
func NewProjection(log *slog.Logger) *Projection {
	if log == nil {
		log = slog.Default()
	}
	return &Projection{
		log:        log,
		pendingCap: DefaultPendingPatches,
		rooms:      make(map[string]*roomTimeline),
	}
}

// Attach subscribes the projection to the message events on the bus. Call
// Detach to remove the subscriptions.
func (p *Projection) Attach(bus *events.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs,
		bus.Subscribe(events.NewMessage, p.onNewMessage),
		bus.Subscribe(events.MessageEdited, p.onPatch),
		bus.Subscribe(events.MessageDeleted, p.onDelete),
		bus.Subscribe(events.ReactionAdded, p.onPatch),
		bus.Subscribe(events.ReactionRemoved, p.onPatch),
		bus.Subscribe(events.MessageRead, p.onPatch),
	)
}

// Detach removes the projection's subscriptions from the bus.
func (p *Projection) Detach() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Seed loads a history page (e.g. from the REST history endpoint) into the
// projection, deduplicating against anything already delivered live.
func (p *Projection) Seed(roomID string, msgs []*domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		p.insertLocked(roomID, m.Clone())
	}
}

// Entries returns the room's messages in chronological order. The returned
// records are copies; mutating them does not affect the projection.
func (p *Projection) Entries(roomID string) []*domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	rt := p.rooms[roomID]
	if rt == nil {
		return nil
	}
	out := make([]*domain.Message, len(rt.order))
	for i, m := range rt.order {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of a single message, or nil when unknown.
func (p *Projection) Get(roomID, messageID string) *domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	rt := p.rooms[roomID]
	if rt == nil {
		return nil
	}
	m := rt.byID[messageID]
	if m == nil {
		return nil
	}
	return m.Clone()
}

// DayGroup is one calendar date's worth of messages for display grouping.
type DayGroup struct {
	Date     string // YYYY-MM-DD
	Messages []*domain.Message
}

// GroupedByDate returns the room's messages grouped by calendar date,
// chronological within each date. Purely derived; the stored order is never
// mutated.
func (p *Projection) GroupedByDate(roomID string) []DayGroup {
	entries := p.Entries(roomID)
	if len(entries) == 0 {
		return nil
	}

	var groups []DayGroup
	for _, m := range entries {
		date := m.CreatedAt.Format("2006-01-02")
		if len(groups) == 0 || groups[len(groups)-1].Date != date {
			groups = append(groups, DayGroup{Date: date})
		}
		g := &groups[len(groups)-1]
		g.Messages = append(g.Messages, m)
	}
	return groups
}

func (p *Projection) onNewMessage(ev events.Event) {
	var msg domain.Message
	if err := ev.Decode(&msg); err != nil {
		p.log.Warn("Dropping malformed new_message event", "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertLocked(msg.RoomID, &msg)
}

func (p *Projection) insertLocked(roomID string, msg *domain.Message) {
	rt := p.roomLocked(roomID)
	if _, exists := rt.byID[msg.ID]; exists {
		// Duplicate delivery after a reconnect; the first copy wins.
		return
	}
	rt.byID[msg.ID] = msg

	// Insert before the first later message; equal timestamps keep arrival
	// order.
	idx := sort.Search(len(rt.order), func(i int) bool {
		return rt.order[i].CreatedAt.After(msg.CreatedAt)
	})
	rt.order = append(rt.order, nil)
	copy(rt.order[idx+1:], rt.order[idx:])
	rt.order[idx] = msg

	p.replayPendingLocked(rt, msg.ID)
}

func (p *Projection) onPatch(ev events.Event) {
	roomID, messageID, ok := patchTarget(ev)
	if !ok {
		p.log.Warn("Dropping malformed patch event", "event", ev.Name)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rt := p.roomLocked(roomID)
	msg := rt.byID[messageID]
	if msg == nil {
		p.bufferPatchLocked(rt, roomID, ev)
		return
	}
	p.applyPatchLocked(msg, ev)
}

func (p *Projection) onDelete(ev events.Event) {
	var del events.DeletePayload
	if err := ev.Decode(&del); err != nil {
		p.log.Warn("Dropping malformed message_deleted event", "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rt := p.rooms[del.RoomID]
	if rt == nil {
		return
	}
	msg := rt.byID[del.MessageID]
	if msg == nil {
		return
	}
	delete(rt.byID, del.MessageID)
	for i, m := range rt.order {
		if m.ID == del.MessageID {
			rt.order = append(rt.order[:i], rt.order[i+1:]...)
			break
		}
	}
}

func (p *Projection) bufferPatchLocked(rt *roomTimeline, roomID string, ev events.Event) {
	evicted, dropped := rt.pending.push(ev)
	if dropped {
		p.log.Warn("Pending patch buffer full, dropping oldest patch",
			"room_id", roomID, "dropped_event", evicted.Name)
	}
}

func (p *Projection) replayPendingLocked(rt *roomTimeline, messageID string) {
	matched := rt.pending.drain(func(ev events.Event) bool {
		_, id, ok := patchTarget(ev)
		return ok && id == messageID
	})
	msg := rt.byID[messageID]
	for _, ev := range matched {
		p.applyPatchLocked(msg, ev)
	}
}

// applyPatchLocked patches the existing record in place. A message identifier
// stays unique within its room: patches never create a second entry.
func (p *Projection) applyPatchLocked(msg *domain.Message, ev events.Event) {
	switch ev.Name {
	case events.MessageEdited:
		var edit events.EditPayload
		if err := ev.Decode(&edit); err != nil {
			p.log.Warn("Dropping malformed message_edited event", "error", err)
			return
		}
		msg.Content = edit.Content
		at := edit.EditedAt
		msg.EditedAt = &at
	case events.ReactionAdded:
		var re events.ReactionPayload
		if err := ev.Decode(&re); err != nil {
			p.log.Warn("Dropping malformed reaction event", "error", err)
			return
		}
		msg.AddReaction(re.UserID, re.Emoji)
	case events.ReactionRemoved:
		var re events.ReactionPayload
		if err := ev.Decode(&re); err != nil {
			p.log.Warn("Dropping malformed reaction event", "error", err)
			return
		}
		msg.RemoveReaction(re.UserID, re.Emoji)
	case events.MessageRead:
		var rd events.ReadPayload
		if err := ev.Decode(&rd); err != nil {
			p.log.Warn("Dropping malformed message_read event", "error", err)
			return
		}
		msg.MarkRead(rd.UserID)
	}
}

func (p *Projection) roomLocked(roomID string) *roomTimeline {
	rt := p.rooms[roomID]
	if rt == nil {
		rt = &roomTimeline{
			byID:    make(map[string]*domain.Message),
			pending: newPendingRing(p.pendingCap),
		}
		p.rooms[roomID] = rt
	}
	return rt
}

// patchTarget extracts the (room, message) a patch event applies to.
func patchTarget(ev events.Event) (roomID, messageID string, ok bool) {
	var ref struct {
		RoomID    string `json:"room_id"`
		MessageID string `json:"message_id"`
	}
	if err := ev.Decode(&ref); err != nil || ref.RoomID == "" || ref.MessageID == "" {
		return "", "", false
	}
	return ref.RoomID, ref.MessageID, true
}

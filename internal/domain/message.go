// Package domain contains core domain types for the BloxMarket realtime layer.
package domain

import (
	"time"
)

// MessageType identifies the kind of content a message carries.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

// Reaction is a single emoji reaction attached to a message.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is the client-side record of a chat message. It is a projection of
// the event stream, not the source of truth: the gateway assigns the ID and
// creation timestamp, and later edit/reaction/read events patch fields in
// place.
type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	SenderID  string      `json:"sender_id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	ReplyTo   string      `json:"reply_to,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	EditedAt  *time.Time  `json:"edited_at,omitempty"`
	Reactions []Reaction  `json:"reactions,omitempty"`
	ReadBy    []string    `json:"read_by,omitempty"`
}

// Edited reports whether the message has been edited since delivery.
func (m *Message) Edited() bool {
	return m.EditedAt != nil
}

// AddReaction records a reaction if the (user, emoji) pair is not already
// present.
func (m *Message) AddReaction(userID, emoji string) {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return
		}
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji})
}

// RemoveReaction removes a previously recorded reaction. Removing a reaction
// that was never added is a no-op.
func (m *Message) RemoveReaction(userID, emoji string) {
	for i, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return
		}
	}
}

// MarkRead records a read receipt for the given user exactly once.
func (m *Message) MarkRead(userID string) {
	for _, id := range m.ReadBy {
		if id == userID {
			return
		}
	}
	m.ReadBy = append(m.ReadBy, userID)
}

// ReadByUser reports whether the given user has read the message.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand records out without exposing
// the projection's internal state to mutation.
func (m *Message) Clone() *Message {
	c := *m
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	c.Reactions = append([]Reaction(nil), m.Reactions...)
	c.ReadBy = append([]string(nil), m.ReadBy...)
	return &c
}

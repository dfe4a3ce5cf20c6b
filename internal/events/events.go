// Package events defines the named-event envelope carried over the realtime
// channel and the in-process router that fans inbound events out to
// subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/domain"
)

// Event names carried over the channel. The session layer never interprets
// payloads; it dispatches by name and leaves decoding to subscribers.
const (
	// Connection lifecycle, published locally by the session (never sent on
	// the wire).
	ConnectionState = "connection_state"
	ConnectionLost  = "connection_lost"

	NewMessage      = "new_message"
	MessageEdited   = "message_edited"
	MessageDeleted  = "message_deleted"
	ReactionAdded   = "reaction_added"
	ReactionRemoved = "reaction_removed"
	MessageRead     = "message_read"
	TypingStart     = "typing_start"
	TypingStop      = "typing_stop"
	JoinRoom        = "join_room"
	LeaveRoom       = "leave_room"
	MembersChanged  = "room_members_changed"
)

// Event is the wire envelope: a name plus an opaque JSON body.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds an event with the payload marshaled into the envelope.
func New(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// MustNew is New for payloads that cannot fail to marshal (local structs).
func MustNew(name string, payload any) Event {
	ev, err := New(name, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return nil
}

// StatePayload announces a session state transition.
type StatePayload struct {
	State   string `json:"state"`
	Attempt int    `json:"attempt,omitempty"`
}

// TypingPayload marks a user starting or stopping typing in a room.
type TypingPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id,omitempty"`
}

// MembershipPayload accompanies join/leave and membership-changed events.
type MembershipPayload struct {
	RoomID  string   `json:"room_id"`
	UserID  string   `json:"user_id,omitempty"`
	Members []string `json:"members,omitempty"`
}

// SendPayload is the client -> gateway body for a new outbound message.
type SendPayload struct {
	RoomID  string             `json:"room_id"`
	Type    domain.MessageType `json:"type"`
	Content string             `json:"content"`
	ReplyTo string             `json:"reply_to,omitempty"`
}

// EditPayload patches the content of an existing message.
type EditPayload struct {
	RoomID    string    `json:"room_id"`
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

// DeletePayload removes a message from the timeline.
type DeletePayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

// ReactionPayload adds or removes a reaction on a message.
type ReactionPayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// ReadPayload records a read receipt for a message.
type ReadPayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

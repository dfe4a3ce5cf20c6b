// Package store persists the realtime message stream so clients can seed
// their timeline projections from history after connecting.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/domain"
)

// ErrNotFound is returned when the referenced message does not exist.
var ErrNotFound = errors.New("message not found")

// History defines the interface for persisting and reading room messages.
type History interface {
	// Append stores a newly delivered message.
	Append(ctx context.Context, msg *domain.Message) error

	// UpdateContent patches a message's content after an edit event.
	UpdateContent(ctx context.Context, roomID, messageID, content string, editedAt time.Time) error

	// Delete removes a message from history.
	Delete(ctx context.Context, roomID, messageID string) error

	// ListRecent returns up to limit messages for a room in chronological
	// order (oldest first).
	ListRecent(ctx context.Context, roomID string, limit int) ([]*domain.Message, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying database.
	Close() error
}

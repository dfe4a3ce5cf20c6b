package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteHistory implements History using SQLite.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed history store.
func NewSQLite(dbPath string) (History, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteHistory{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteHistory) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		msg_type TEXT NOT NULL,
		content TEXT NOT NULL,
		reply_to TEXT,
		created_at INTEGER NOT NULL,
		edited_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_room_created ON messages(room_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteHistory) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append stores a newly delivered message.
func (s *SQLiteHistory) Append(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (message_id, room_id, sender_id, msg_type, content, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`

	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, msg.RoomID, msg.SenderID, string(msg.Type), msg.Content,
			nullableString(msg.ReplyTo), msg.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
		return nil
	})
}

// UpdateContent patches a message's content after an edit event.
func (s *SQLiteHistory) UpdateContent(ctx context.Context, roomID, messageID, content string, editedAt time.Time) error {
	query := `UPDATE messages SET content = ?, edited_at = ? WHERE room_id = ? AND message_id = ?`

	return withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, content, editedAt.UnixMilli(), roomID, messageID)
		if err != nil {
			return fmt.Errorf("update message %s: %w", messageID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update message %s: %w", messageID, ErrNotFound)
		}
		return nil
	})
}

// Delete removes a message from history.
func (s *SQLiteHistory) Delete(ctx context.Context, roomID, messageID string) error {
	query := `DELETE FROM messages WHERE room_id = ? AND message_id = ?`

	return withBusyRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, query, roomID, messageID); err != nil {
			return fmt.Errorf("delete message %s: %w", messageID, err)
		}
		return nil
	})
}

// ListRecent returns up to limit messages for a room, oldest first.
func (s *SQLiteHistory) ListRecent(ctx context.Context, roomID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// Take the newest page, then flip it into chronological order.
	query := `
		SELECT message_id, room_id, sender_id, msg_type, content, reply_to, created_at, edited_at
		FROM (
			SELECT * FROM messages WHERE room_id = ? ORDER BY created_at DESC, message_id LIMIT ?
		) ORDER BY created_at ASC, message_id`

	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var msgType string
		var replyTo sql.NullString
		var createdAt int64
		var editedAt sql.NullInt64

		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msgType,
			&msg.Content, &replyTo, &createdAt, &editedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Type = domain.MessageType(msgType)
		msg.ReplyTo = replyTo.String
		msg.CreatedAt = time.UnixMilli(createdAt)
		if editedAt.Valid {
			t := time.UnixMilli(editedAt.Int64)
			msg.EditedAt = &t
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

// Close closes the database connection.
func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

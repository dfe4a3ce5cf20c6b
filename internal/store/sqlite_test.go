package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/domain"
)

func newTestHistory(t *testing.T) History {
	t.Helper()
	h, err := NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func testMessage(id string, ts time.Time) *domain.Message {
	return &domain.Message{
		ID:        id,
		RoomID:    "trade-lounge",
		SenderID:  "user-1",
		Type:      domain.MessageText,
		Content:   "content of " + id,
		CreatedAt: ts,
	}
}

func TestAppendAndListRecent(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	require.NoError(t, h.Append(ctx, testMessage("m1", base)))
	require.NoError(t, h.Append(ctx, testMessage("m2", base.Add(time.Minute))))
	require.NoError(t, h.Append(ctx, testMessage("m3", base.Add(2*time.Minute))))

	msgs, err := h.ListRecent(ctx, "trade-lounge", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m3", msgs[2].ID)
}

func TestAppendIsIdempotent(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	msg := testMessage("m1", time.Now())
	require.NoError(t, h.Append(ctx, msg))
	require.NoError(t, h.Append(ctx, msg))

	msgs, err := h.ListRecent(ctx, "trade-lounge", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestListRecentReturnsNewestPage(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, h.Append(ctx, testMessage(id, base.Add(time.Duration(i)*time.Minute))))
	}

	msgs, err := h.ListRecent(ctx, "trade-lounge", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Newest two, still oldest first.
	require.Equal(t, "d", msgs[0].ID)
	require.Equal(t, "e", msgs[1].ID)
}

func TestUpdateContent(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	msg := testMessage("m1", time.Now().Truncate(time.Millisecond))
	require.NoError(t, h.Append(ctx, msg))

	editedAt := time.Now().Truncate(time.Millisecond)
	require.NoError(t, h.UpdateContent(ctx, msg.RoomID, msg.ID, "revised", editedAt))

	msgs, err := h.ListRecent(ctx, msg.RoomID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "revised", msgs[0].Content)
	require.NotNil(t, msgs[0].EditedAt)
	require.Equal(t, editedAt.UnixMilli(), msgs[0].EditedAt.UnixMilli())
}

func TestUpdateContentMissingMessage(t *testing.T) {
	h := newTestHistory(t)

	err := h.UpdateContent(context.Background(), "trade-lounge", "nope", "x", time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, testMessage("m1", time.Now())))
	require.NoError(t, h.Delete(ctx, "trade-lounge", "m1"))

	msgs, err := h.ListRecent(ctx, "trade-lounge", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	// Deleting again is a no-op.
	require.NoError(t, h.Delete(ctx, "trade-lounge", "m1"))
}

func TestReplyToRoundTrip(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	parent := testMessage("m1", time.Now().Add(-time.Minute))
	reply := testMessage("m2", time.Now())
	reply.ReplyTo = "m1"

	require.NoError(t, h.Append(ctx, parent))
	require.NoError(t, h.Append(ctx, reply))

	msgs, err := h.ListRecent(ctx, "trade-lounge", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Empty(t, msgs[0].ReplyTo)
	require.Equal(t, "m1", msgs[1].ReplyTo)
}

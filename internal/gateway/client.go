package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/domain"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/store"
)

const clientWriteTimeout = 5 * time.Second

// Client is one authenticated WebSocket connection. Outbound events go
// through a buffered queue drained by a dedicated writer goroutine so one
// slow reader cannot stall a room broadcast.
type Client struct {
	hub      *Hub
	history  store.History
	conn     *websocket.Conn
	userID   string
	username string
	outbound chan events.Event
	log      *slog.Logger
}

func newClient(hub *Hub, history store.History, conn *websocket.Conn, userID, username string, queueSize int, log *slog.Logger) *Client {
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		hub:      hub,
		history:  history,
		conn:     conn,
		userID:   userID,
		username: username,
		outbound: make(chan events.Event, queueSize),
		log:      log.With("user_id", userID),
	}
}

// enqueue queues an event for delivery, dropping the oldest queued event
// when the buffer is full so the connection never blocks a broadcast.
func (c *Client) enqueue(ev events.Event) {
	select {
	case c.outbound <- ev:
		return
	default:
	}

	select {
	case dropped := <-c.outbound:
		c.log.Warn("outbound queue full, dropping oldest event", "dropped", dropped.Name)
	default:
	}

	select {
	case c.outbound <- ev:
	default:
		c.log.Warn("outbound queue still full, dropping event", "event", ev.Name)
	}
}

// run services the connection until the client disconnects or ctx is
// canceled. It blocks; the caller owns the connection's lifetime.
func (c *Client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	c.readLoop(ctx)
	cancel()
	<-writerDone

	c.hub.Remove(c)
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.outbound:
			writeCtx, cancel := context.WithTimeout(ctx, clientWriteTimeout)
			err := wsjson.Write(writeCtx, c.conn, ev)
			cancel()
			if err != nil {
				c.log.Debug("write failed, closing connection", "event", ev.Name, "error", err)
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		var ev events.Event
		if err := wsjson.Read(ctx, c.conn, &ev); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				c.log.Info("client disconnected")
			} else {
				c.log.Warn("read failed", "error", err)
			}
			return
		}
		c.dispatch(ctx, ev)
	}
}

func (c *Client) dispatch(ctx context.Context, ev events.Event) {
	var err error
	switch ev.Name {
	case events.JoinRoom:
		err = c.onJoin(ev)
	case events.LeaveRoom:
		err = c.onLeave(ev)
	case events.TypingStart, events.TypingStop:
		err = c.onTyping(ev)
	case events.NewMessage:
		err = c.onNewMessage(ctx, ev)
	case events.MessageEdited:
		err = c.onEdit(ctx, ev)
	case events.MessageDeleted:
		err = c.onDelete(ctx, ev)
	case events.ReactionAdded, events.ReactionRemoved:
		err = c.onReaction(ev)
	case events.MessageRead:
		err = c.onRead(ev)
	default:
		c.log.Warn("unknown event", "event", ev.Name)
		return
	}
	if err != nil {
		c.log.Warn("event rejected", "event", ev.Name, "error", err)
	}
}

func (c *Client) onJoin(ev events.Event) error {
	var p events.MembershipPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return errors.New("room_id is required")
	}
	c.hub.Join(p.RoomID, c)
	return nil
}

func (c *Client) onLeave(ev events.Event) error {
	var p events.MembershipPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return errors.New("room_id is required")
	}
	c.hub.Leave(p.RoomID, c)
	return nil
}

// onTyping relays typing activity to the other members of the room. The
// sender already knows it is typing.
func (c *Client) onTyping(ev events.Event) error {
	var p events.TypingPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if !c.hub.InRoom(p.RoomID, c) {
		return errors.New("not a room member")
	}
	p.UserID = c.userID
	c.hub.Broadcast(p.RoomID, events.MustNew(ev.Name, p), c)
	return nil
}

// onNewMessage assigns the message its identity and timestamp, persists it,
// and delivers it to every room member including the sender. Clients treat
// the broadcast as the authoritative copy.
func (c *Client) onNewMessage(ctx context.Context, ev events.Event) error {
	var p events.SendPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if !c.hub.InRoom(p.RoomID, c) {
		return errors.New("not a room member")
	}
	if p.Content == "" {
		return errors.New("content is required")
	}
	if p.Type == "" {
		p.Type = domain.MessageText
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		RoomID:    p.RoomID,
		SenderID:  c.userID,
		Type:      p.Type,
		Content:   p.Content,
		ReplyTo:   p.ReplyTo,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.history.Append(ctx, msg); err != nil {
		return err
	}

	c.hub.Broadcast(p.RoomID, events.MustNew(events.NewMessage, msg), nil)
	return nil
}

func (c *Client) onEdit(ctx context.Context, ev events.Event) error {
	var p events.EditPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if !c.hub.InRoom(p.RoomID, c) {
		return errors.New("not a room member")
	}
	if p.Content == "" {
		return errors.New("content is required")
	}
	p.EditedAt = time.Now().UTC()

	if err := c.history.UpdateContent(ctx, p.RoomID, p.MessageID, p.Content, p.EditedAt); err != nil {
		return err
	}
	c.hub.Broadcast(p.RoomID, events.MustNew(events.MessageEdited, p), nil)
	return nil
}

func (c *Client) onDelete(ctx context.Context, ev events.Event) error {
	var p events.DeletePayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if !c.hub.InRoom(p.RoomID, c) {
		return errors.New("not a room member")
	}
	if err := c.history.Delete(ctx, p.RoomID, p.MessageID); err != nil {
		return err
	}
	c.hub.Broadcast(p.RoomID, events.MustNew(events.MessageDeleted, p), nil)
	return nil
}

func (c *Client) onReaction(ev events.Event) error {
	var p events.ReactionPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if !c.hub.InRoom(p.RoomID, c) {
		return errors.New("not a room member")
	}
	p.UserID = c.userID
	c.hub.Broadcast(p.RoomID, events.MustNew(ev.Name, p), nil)
	return nil
}

func (c *Client) onRead(ev events.Event) error {
	var p events.ReadPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if !c.hub.InRoom(p.RoomID, c) {
		return errors.New("not a room member")
	}
	p.UserID = c.userID
	c.hub.Broadcast(p.RoomID, events.MustNew(events.MessageRead, p), nil)
	return nil
}

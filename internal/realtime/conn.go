// Package realtime implements the client side of the persistent bidirectional
// channel: session lifecycle with bounded reconnection, room membership that
// survives reconnects, and debounced typing signals.
package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
)

// Conn is one established bidirectional channel. The session treats payloads
// as opaque; it only reads and writes named-event envelopes.
type Conn interface {
	// Read blocks until the next inbound event or a transport error.
	Read(ctx context.Context) (events.Event, error)

	// Write sends an event to the server.
	Write(ctx context.Context, ev events.Event) error

	// Close tears the channel down. Any blocked Read returns an error.
	Close() error
}

// Dialer opens a channel authenticated with the given bearer credential.
type Dialer func(ctx context.Context, credential string) (Conn, error)

// WebSocketDialer returns the production dialer: a websocket connection to the
// gateway's /ws endpoint with the credential carried as a bearer token.
func WebSocketDialer(url string) Dialer {
	return func(ctx context.Context, credential string) (Conn, error) {
		ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": {"Bearer " + credential}},
		})
		if err != nil {
			return nil, fmt.Errorf("dial gateway: %w", err)
		}
		return &wsConn{ws: ws}, nil
	}
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (events.Event, error) {
	var ev events.Event
	if err := wsjson.Read(ctx, c.ws, &ev); err != nil {
		return events.Event{}, err
	}
	return ev, nil
}

func (c *wsConn) Write(ctx context.Context, ev events.Event) error {
	return wsjson.Write(ctx, c.ws, ev)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "session closed")
}

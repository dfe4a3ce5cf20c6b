package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
)

// State is the session's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var (
	// ErrSessionClosed is returned once Close has been called.
	ErrSessionClosed = errors.New("realtime: session closed")

	// ErrConnectInProgress is returned when Connect is called while another
	// connect attempt is still underway.
	ErrConnectInProgress = errors.New("realtime: connect already in progress")

	// ErrNotConnected is returned for sends attempted without a live channel.
	ErrNotConnected = errors.New("realtime: not connected")
)

// writeTimeout bounds fire-and-forget channel writes (joins, typing signals).
const writeTimeout = 5 * time.Second

// Config tunes the session's reconnect and typing behavior.
type Config struct {
	// ReconnectBaseDelay scales linearly with the attempt number.
	ReconnectBaseDelay time.Duration

	// MaxReconnectAttempts bounds the reconnect sequence; exhausting it
	// surfaces a connection_lost event instead of retrying forever.
	MaxReconnectAttempts int

	// TypingIdleTimeout is how long after the last input the typing_stop
	// signal fires.
	TypingIdleTimeout time.Duration
}

// DefaultConfig returns the stock session tuning.
func DefaultConfig() Config {
	return Config{
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 5,
		TypingIdleTimeout:    1 * time.Second,
	}
}

type typingState struct {
	active bool
	timer  *time.Timer
}

// Session owns one persistent bidirectional channel per client process.
//
// Inbound events are handed verbatim to the event bus; the session performs no
// payload interpretation beyond dispatching by name. Lifecycle transitions are
// published as connection_state events, and exhausting the reconnect budget
// publishes connection_lost.
type Session struct {
	cfg  Config
	bus  *events.Bus
	dial Dialer
	log  *slog.Logger

	mu         sync.Mutex
	state      State
	conn       Conn
	credential string
	attempts   int
	gen        int // connection generation; stale read pumps are ignored
	closed     bool
	reconnect  *time.Timer
	rooms      map[string]struct{}
	typing     map[string]*typingState
}

// NewSession creates a session that dials through dial and publishes inbound
// events on bus. A nil logger falls back to slog.Default.
func NewSession(cfg Config, bus *events.Bus, dial Dialer, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultConfig().ReconnectBaseDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultConfig().MaxReconnectAttempts
	}
	if cfg.TypingIdleTimeout <= 0 {
		cfg.TypingIdleTimeout = DefaultConfig().TypingIdleTimeout
	}
	return &Session{
		cfg:    cfg,
		bus:    bus,
		dial:   dial,
		log:    log,
		state:  StateDisconnected,
		rooms:  make(map[string]struct{}),
		typing: make(map[string]*typingState),
	}
}

// Connect opens the channel bound to the given credential. Calling Connect on
// an already-connected session is a no-op. A failed connect starts the bounded
// reconnect sequence in the background and still reports the failure to the
// caller.
func (s *Session) Connect(ctx context.Context, credential string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	}
	s.credential = credential
	// An explicit connect supersedes any pending background retry.
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.mu.Unlock()

	return s.establish(ctx)
}

// Close tears the session down: it cancels any pending reconnect and typing
// timers, clears room membership and typing state, and closes the channel.
// The session cannot be reused afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	for _, ts := range s.typing {
		if ts.timer != nil {
			ts.timer.Stop()
		}
	}
	s.typing = make(map[string]*typingState)
	s.rooms = make(map[string]struct{})
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.publishState(StateDisconnected, 0)
	return err
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReconnectAttempts returns the current reconnect attempt counter. It resets
// to zero after any successful connect.
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Send writes an event to the channel.
func (s *Session) Send(ctx context.Context, ev events.Event) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ctx, ev)
}

// SendMessage publishes a new chat message to a room. The gateway assigns the
// identifier and timestamp and echoes the full record back as a new_message
// event.
func (s *Session) SendMessage(ctx context.Context, roomID, content string) error {
	ev, err := events.New(events.NewMessage, events.SendPayload{
		RoomID:  roomID,
		Type:    "text",
		Content: content,
	})
	if err != nil {
		return err
	}
	return s.Send(ctx, ev)
}

// establish performs one connect attempt. On failure it records the
// disconnect and schedules the next bounded retry.
func (s *Session) establish(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateConnecting {
		s.mu.Unlock()
		return ErrConnectInProgress
	}
	s.state = StateConnecting
	credential := s.credential
	attempt := s.attempts
	s.mu.Unlock()
	s.publishState(StateConnecting, attempt)

	conn, err := s.dial(ctx, credential)
	if err != nil {
		s.log.Warn("Channel dial failed", "attempt", attempt, "error", err)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return err
		}
		s.state = StateDisconnected
		lost := s.scheduleReconnectLocked()
		s.mu.Unlock()
		s.publishState(StateDisconnected, attempt)
		if lost {
			s.publishLost()
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.gen++
	gen := s.gen
	s.attempts = 0
	s.state = StateConnected
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	s.publishState(StateConnected, 0)

	// Server-side membership does not survive a transport disconnect:
	// re-assert every joined room, exactly once each.
	for _, room := range rooms {
		if err := s.writeMembership(events.JoinRoom, room); err != nil {
			s.log.Warn("Room rejoin failed", "room_id", room, "error", err)
		}
	}

	go s.readPump(conn, gen)
	return nil
}

// readPump moves inbound events from the channel to the bus until the
// transport fails, then hands off to the reconnect sequence.
func (s *Session) readPump(conn Conn, gen int) {
	for {
		ev, err := conn.Read(context.Background())
		if err != nil {
			s.handleDrop(gen, err)
			return
		}
		s.bus.Publish(ev)
	}
}

func (s *Session) handleDrop(gen int, cause error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		// Explicit teardown or an already-replaced connection.
		s.mu.Unlock()
		return
	}
	s.log.Info("Channel dropped", "error", cause)
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = StateDisconnected
	s.resetTypingLocked()
	attempt := s.attempts
	lost := s.scheduleReconnectLocked()
	s.mu.Unlock()

	s.publishState(StateDisconnected, attempt)
	if lost {
		s.publishLost()
	}
}

// scheduleReconnectLocked arms the next retry timer with a baseDelay × attempt
// backoff. It returns true when the attempt budget is exhausted and the
// session must surface connection_lost instead.
func (s *Session) scheduleReconnectLocked() bool {
	if s.closed {
		return false
	}
	if s.attempts >= s.cfg.MaxReconnectAttempts {
		return true
	}
	s.attempts++
	delay := s.cfg.ReconnectBaseDelay * time.Duration(s.attempts)
	s.reconnect = time.AfterFunc(delay, s.retry)
	return false
}

// retry runs on the reconnect timer. Attempts are strictly sequential: the
// next timer is only armed after this attempt resolves.
func (s *Session) retry() {
	s.mu.Lock()
	if s.closed || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	_ = s.establish(context.Background())
}

func (s *Session) publishState(state State, attempt int) {
	s.bus.Publish(events.MustNew(events.ConnectionState, events.StatePayload{
		State:   string(state),
		Attempt: attempt,
	}))
}

func (s *Session) publishLost() {
	s.log.Error("Reconnect budget exhausted, realtime updates stopped",
		"max_attempts", s.cfg.MaxReconnectAttempts)
	s.bus.Publish(events.MustNew(events.ConnectionLost, events.StatePayload{
		State:   string(StateDisconnected),
		Attempt: s.cfg.MaxReconnectAttempts,
	}))
}

// writeMembership sends a join/leave frame with a bounded deadline.
func (s *Session) writeMembership(name, roomID string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	ev, err := events.New(name, events.MembershipPayload{RoomID: roomID})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ev)
}

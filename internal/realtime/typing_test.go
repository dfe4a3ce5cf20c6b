package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
)

func TestTypingDebounce(t *testing.T) {
	bus := events.NewBus(nil)
	dialer := &fakeDialer{}
	s := NewSession(testSessionConfig(), bus, dialer.dial, nil)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Connect(context.Background(), "token"))
	conn := dialer.conn(0)

	// A burst of keystrokes within the idle window.
	for i := 0; i < 5; i++ {
		s.OnUserInput("room-1")
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, 1, conn.countWrites(events.TypingStart, "room-1"),
		"a burst emits exactly one typing_start")
	assert.Equal(t, 0, conn.countWrites(events.TypingStop, "room-1"),
		"no stop while input keeps arriving")

	// Idle window elapses with no further input.
	require.Eventually(t, func() bool {
		return conn.countWrites(events.TypingStop, "room-1") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, conn.countWrites(events.TypingStart, "room-1"))
}

func TestTypingRestartsAfterStop(t *testing.T) {
	bus := events.NewBus(nil)
	dialer := &fakeDialer{}
	s := NewSession(testSessionConfig(), bus, dialer.dial, nil)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Connect(context.Background(), "token"))
	conn := dialer.conn(0)

	s.OnUserInput("room-1")
	require.Eventually(t, func() bool {
		return conn.countWrites(events.TypingStop, "room-1") == 1
	}, time.Second, 5*time.Millisecond)

	// Typing again after the stop starts a fresh signal.
	s.OnUserInput("room-1")
	assert.Equal(t, 2, conn.countWrites(events.TypingStart, "room-1"))
}

func TestTypingScopesAreIndependent(t *testing.T) {
	bus := events.NewBus(nil)
	dialer := &fakeDialer{}
	s := NewSession(testSessionConfig(), bus, dialer.dial, nil)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Connect(context.Background(), "token"))
	conn := dialer.conn(0)

	s.OnUserInput("room-1")
	s.OnUserInput("room-2")

	assert.Equal(t, 1, conn.countWrites(events.TypingStart, "room-1"))
	assert.Equal(t, 1, conn.countWrites(events.TypingStart, "room-2"))

	require.Eventually(t, func() bool {
		return conn.countWrites(events.TypingStop, "room-1") == 1 &&
			conn.countWrites(events.TypingStop, "room-2") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTypingIgnoredWhileDisconnected(t *testing.T) {
	bus := events.NewBus(nil)
	dialer := &fakeDialer{}
	s := NewSession(testSessionConfig(), bus, dialer.dial, nil)
	defer func() { _ = s.Close() }()

	s.OnUserInput("room-1") // not connected: nothing to signal

	require.NoError(t, s.Connect(context.Background(), "token"))
	assert.Equal(t, 0, dialer.conn(0).countWrites(events.TypingStart, "room-1"))
}

func TestTypingTimersClearedOnDrop(t *testing.T) {
	bus := events.NewBus(nil)
	dialer := &fakeDialer{}
	s := NewSession(testSessionConfig(), bus, dialer.dial, nil)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Connect(context.Background(), "token"))
	first := dialer.conn(0)
	s.OnUserInput("room-1")

	_ = first.Close()
	require.Eventually(t, func() bool { return s.State() == StateConnected },
		time.Second, 5*time.Millisecond)

	// The pre-drop idle timer must not emit a stop on the new connection.
	time.Sleep(150 * time.Millisecond)
	second := dialer.conn(1)
	require.NotNil(t, second)
	assert.Equal(t, 0, second.countWrites(events.TypingStop, "room-1"))
}

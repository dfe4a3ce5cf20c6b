package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/auth"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/config"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/realtime"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/store"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/timeline"
)

func startGateway(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Port:         "0",
		DBPath:       filepath.Join(t.TempDir(), "chat.db"),
		TokenSecret:  "test-secret",
		TokenTTL:     time.Hour,
		HistoryLimit: 50,
		ClientQueue:  64,
	}

	history, err := store.NewSQLite(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	issuer, err := auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)
	require.NoError(t, err)

	srv := NewServer(cfg, issuer, NewHub(nil), history, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func mintToken(t *testing.T, ts *httptest.Server, userID, username string) string {
	t.Helper()

	body, err := json.Marshal(map[string]string{"user_id": userID, "username": username})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/tokens", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var minted mintResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&minted))
	require.NotEmpty(t, minted.Token)
	return minted.Token
}

type chatClient struct {
	bus      *events.Bus
	session  *realtime.Session
	timeline *timeline.Projection
}

func connectClient(t *testing.T, ts *httptest.Server, token string) *chatClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	bus := events.NewBus(nil)
	proj := timeline.NewProjection(nil)
	proj.Attach(bus)

	sess := realtime.NewSession(realtime.Config{
		ReconnectBaseDelay:   50 * time.Millisecond,
		MaxReconnectAttempts: 3,
		TypingIdleTimeout:    100 * time.Millisecond,
	}, bus, realtime.WebSocketDialer(wsURL), nil)
	t.Cleanup(func() { _ = sess.Close() })

	require.NoError(t, sess.Connect(context.Background(), token))
	return &chatClient{bus: bus, session: sess, timeline: proj}
}

func collect(bus *events.Bus, name string) <-chan events.Event {
	ch := make(chan events.Event, 16)
	bus.Subscribe(name, func(ev events.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

// waitForMembers blocks until a membership update lists exactly want members.
func waitForMembers(t *testing.T, ch <-chan events.Event, want int) events.MembershipPayload {
	t.Helper()
	for {
		ev := waitEvent(t, ch)
		var p events.MembershipPayload
		require.NoError(t, ev.Decode(&p))
		if len(p.Members) == want {
			return p
		}
	}
}

func TestTokenEndpointRejectsIncompleteRequest(t *testing.T) {
	ts := startGateway(t)

	resp, err := http.Post(ts.URL+"/api/tokens", "application/json", strings.NewReader(`{"user_id": "u1"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryEndpointRequiresToken(t *testing.T) {
	ts := startGateway(t)

	resp, err := http.Get(ts.URL + "/api/rooms/trade-lounge/messages")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := startGateway(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	ts := startGateway(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer bogus")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMessageFlowAcrossClients(t *testing.T) {
	ts := startGateway(t)
	alice := connectClient(t, ts, mintToken(t, ts, "user-alice", "alice"))
	bob := connectClient(t, ts, mintToken(t, ts, "user-bob", "bob"))

	aliceMsgs := collect(alice.bus, events.NewMessage)
	bobMsgs := collect(bob.bus, events.NewMessage)
	bobMembers := collect(bob.bus, events.MembersChanged)

	require.NoError(t, alice.session.Join("trade-lounge"))
	require.NoError(t, bob.session.Join("trade-lounge"))

	// Wait until the gateway sees both members before sending.
	members := waitForMembers(t, bobMembers, 2)
	require.Equal(t, []string{"user-alice", "user-bob"}, members.Members)

	require.NoError(t, alice.session.SendMessage(context.Background(), "trade-lounge", "selling limiteds, DM me"))

	// Both clients receive the authoritative copy, sender included.
	got := waitEvent(t, bobMsgs)
	waitEvent(t, aliceMsgs)

	var wire struct {
		ID       string `json:"id"`
		RoomID   string `json:"room_id"`
		SenderID string `json:"sender_id"`
		Content  string `json:"content"`
	}
	require.NoError(t, got.Decode(&wire))
	require.NotEmpty(t, wire.ID)
	require.Equal(t, "trade-lounge", wire.RoomID)
	require.Equal(t, "user-alice", wire.SenderID)
	require.Equal(t, "selling limiteds, DM me", wire.Content)

	// Both timeline projections converge on the same entry.
	require.Eventually(t, func() bool {
		return len(bob.timeline.Entries("trade-lounge")) == 1 &&
			len(alice.timeline.Entries("trade-lounge")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The message is also persisted and served over the history endpoint.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/rooms/trade-lounge/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, ts, "user-carol", "carol"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Messages []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Messages, 1)
	require.Equal(t, wire.ID, page.Messages[0].ID)
}

func TestEditPropagatesToOtherClients(t *testing.T) {
	ts := startGateway(t)
	alice := connectClient(t, ts, mintToken(t, ts, "user-alice", "alice"))
	bob := connectClient(t, ts, mintToken(t, ts, "user-bob", "bob"))

	bobMsgs := collect(bob.bus, events.NewMessage)
	bobMembers := collect(bob.bus, events.MembersChanged)
	require.NoError(t, alice.session.Join("trade-lounge"))
	require.NoError(t, bob.session.Join("trade-lounge"))
	waitForMembers(t, bobMembers, 2)

	require.NoError(t, alice.session.SendMessage(context.Background(), "trade-lounge", "orignal"))
	got := waitEvent(t, bobMsgs)
	var wire struct {
		ID string `json:"id"`
	}
	require.NoError(t, got.Decode(&wire))

	edit := events.MustNew(events.MessageEdited, events.EditPayload{
		RoomID:    "trade-lounge",
		MessageID: wire.ID,
		Content:   "original",
	})
	require.NoError(t, alice.session.Send(context.Background(), edit))

	require.Eventually(t, func() bool {
		msg := bob.timeline.Get("trade-lounge", wire.ID)
		return msg != nil && msg.Content == "original" && msg.Edited()
	}, 2*time.Second, 10*time.Millisecond)

	// No new entry was created by the edit.
	require.Len(t, bob.timeline.Entries("trade-lounge"), 1)
}

func TestTypingRelayedToOtherMembersOnly(t *testing.T) {
	ts := startGateway(t)
	alice := connectClient(t, ts, mintToken(t, ts, "user-alice", "alice"))
	bob := connectClient(t, ts, mintToken(t, ts, "user-bob", "bob"))

	aliceTyping := collect(alice.bus, events.TypingStart)
	bobTyping := collect(bob.bus, events.TypingStart)
	bobStops := collect(bob.bus, events.TypingStop)
	bobMembers := collect(bob.bus, events.MembersChanged)

	require.NoError(t, alice.session.Join("trade-lounge"))
	require.NoError(t, bob.session.Join("trade-lounge"))
	waitForMembers(t, bobMembers, 2)

	alice.session.OnUserInput("trade-lounge")

	ev := waitEvent(t, bobTyping)
	var p events.TypingPayload
	require.NoError(t, ev.Decode(&p))
	require.Equal(t, "trade-lounge", p.RoomID)
	require.Equal(t, "user-alice", p.UserID)

	// The debounced stop follows after the idle window.
	waitEvent(t, bobStops)

	// The sender never hears its own typing echoed back.
	select {
	case <-aliceTyping:
		t.Fatal("sender received its own typing event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendOutsideRoomIsRejected(t *testing.T) {
	ts := startGateway(t)
	alice := connectClient(t, ts, mintToken(t, ts, "user-alice", "alice"))
	bob := connectClient(t, ts, mintToken(t, ts, "user-bob", "bob"))

	bobMsgs := collect(bob.bus, events.NewMessage)
	bobMembers := collect(bob.bus, events.MembersChanged)
	require.NoError(t, bob.session.Join("trade-lounge"))
	waitForMembers(t, bobMembers, 1)

	// Alice never joined; the gateway drops her message.
	require.NoError(t, alice.session.SendMessage(context.Background(), "trade-lounge", "sneaky"))

	select {
	case <-bobMsgs:
		t.Fatal("message from non-member was delivered")
	case <-time.After(300 * time.Millisecond):
	}
}

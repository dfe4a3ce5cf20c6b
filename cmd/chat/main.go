// Interactive chat client for the BloxMarket gateway.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/config"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/domain"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/governor"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/realtime"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/timeline"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "gateway base URL")
	username := flag.String("username", "", "display name (required)")
	room := flag.String("room", "trade-lounge", "room to join on connect")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *username == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -username <name> [-server URL] [-room ROOM]")
		os.Exit(1)
	}

	if err := run(*serverURL, *username, *room, logger); err != nil {
		slog.Error("chat client failed", "error", err)
		os.Exit(1)
	}
}

func run(serverURL, username, room string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	gov := governor.New(governor.Config{
		AuthInterval:     cfg.Governor.AuthInterval,
		StandardInterval: cfg.Governor.StandardInterval,
		HeavyInterval:    cfg.Governor.HeavyInterval,
	})
	userID := "user-" + uuid.NewString()

	// Token minting goes through the auth lane so repeated launches cannot
	// hammer the endpoint.
	var token string
	err = gov.Do(ctx, governor.CategoryAuth, serverURL, func(ctx context.Context) error {
		var err error
		token, err = mintToken(ctx, serverURL, userID, username)
		return err
	})
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	bus := events.NewBus(logger)
	proj := timeline.NewProjection(logger)
	proj.Attach(bus)
	printIncoming(bus, userID)

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	sess := realtime.NewSession(realtime.Config{
		ReconnectBaseDelay:   cfg.Session.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		TypingIdleTimeout:    cfg.Session.TypingIdleTimeout,
	}, bus, realtime.WebSocketDialer(wsURL), logger)
	defer func() { _ = sess.Close() }()

	if err := sess.Connect(ctx, token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := sess.Join(room); err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}

	// Seed the projection from persisted history before live events land.
	err = gov.Do(ctx, governor.CategoryStandard, room, func(ctx context.Context) error {
		msgs, err := fetchHistory(ctx, serverURL, token, room)
		if err != nil {
			return err
		}
		proj.Seed(room, msgs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	fmt.Printf("connected as %s, joined %s\n", username, room)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	g.Go(func() error {
		return readInput(ctx, sess, gov, proj, serverURL, room)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// readInput turns stdin lines into chat activity. Lines starting with "/"
// are commands; anything else is sent as a message.
func readInput(ctx context.Context, sess *realtime.Session, gov *governor.Governor, proj *timeline.Projection, serverURL, room string) error {
	scanner := bufio.NewScanner(os.Stdin)
	current := room

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return nil
		case line == "/history":
			printHistory(proj, current)
		case strings.HasPrefix(line, "/join "):
			current = strings.TrimSpace(strings.TrimPrefix(line, "/join "))
			if err := sess.Join(current); err != nil {
				fmt.Printf("! join failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/leave "):
			target := strings.TrimSpace(strings.TrimPrefix(line, "/leave "))
			if err := sess.Leave(target); err != nil {
				fmt.Printf("! leave failed: %v\n", err)
			}
		default:
			sess.OnUserInput(current)
			err := gov.Do(ctx, governor.CategoryStandard, current, func(ctx context.Context) error {
				return sess.SendMessage(ctx, current, line)
			})
			if err != nil {
				fmt.Printf("! send failed: %v\n", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func printIncoming(bus *events.Bus, selfID string) {
	bus.Subscribe(events.ConnectionState, func(ev events.Event) {
		var p events.StatePayload
		if ev.Decode(&p) == nil {
			fmt.Printf("* connection: %s\n", p.State)
		}
	})
	bus.Subscribe(events.ConnectionLost, func(ev events.Event) {
		fmt.Println("* connection lost, giving up")
	})
	bus.Subscribe(events.NewMessage, func(ev events.Event) {
		var msg struct {
			RoomID   string `json:"room_id"`
			SenderID string `json:"sender_id"`
			Content  string `json:"content"`
		}
		if ev.Decode(&msg) == nil && msg.SenderID != selfID {
			fmt.Printf("[%s] %s: %s\n", msg.RoomID, msg.SenderID, msg.Content)
		}
	})
	bus.Subscribe(events.TypingStart, func(ev events.Event) {
		var p events.TypingPayload
		if ev.Decode(&p) == nil {
			fmt.Printf("* %s is typing in %s\n", p.UserID, p.RoomID)
		}
	})
	bus.Subscribe(events.MembersChanged, func(ev events.Event) {
		var p events.MembershipPayload
		if ev.Decode(&p) == nil {
			fmt.Printf("* %s members: %s\n", p.RoomID, strings.Join(p.Members, ", "))
		}
	})
}

func printHistory(proj *timeline.Projection, room string) {
	groups := proj.GroupedByDate(room)
	if len(groups) == 0 {
		fmt.Println("(no messages)")
		return
	}
	for _, g := range groups {
		fmt.Printf("-- %s --\n", g.Date)
		for _, m := range g.Messages {
			suffix := ""
			if m.Edited() {
				suffix = " (edited)"
			}
			fmt.Printf("%s %s: %s%s\n", m.CreatedAt.Format("15:04"), m.SenderID, m.Content, suffix)
		}
	}
}

func fetchHistory(ctx context.Context, serverURL, token, room string) ([]*domain.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/api/rooms/"+room+"/messages", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history endpoint returned %s", resp.Status)
	}

	var page struct {
		Messages []*domain.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}
	return page.Messages, nil
}

func mintToken(ctx context.Context, serverURL, userID, username string) (string, error) {
	body, err := json.Marshal(map[string]string{"user_id": userID, "username": username})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/tokens", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var minted struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&minted); err != nil {
		return "", err
	}
	return minted.Token, nil
}

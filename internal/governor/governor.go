// Package governor spaces and serializes outbound requests so bursts of
// independently-triggered calls cannot trip server-side rate limits.
//
// Requests are grouped into categories. Each (category, key) pair has a
// minimum interval between dispatches, and each category has a single
// execution slot: at most one operation per category is ever in flight,
// regardless of key, while different categories proceed independently.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Category classifies an outbound request. Every category shares one minimum
// interval and one execution slot.
type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryStandard Category = "standard"
	CategoryHeavy    Category = "heavy"
)

// Operation is a governed unit of work. The governor never retries it and
// never swallows its error; it only delays and serializes.
type Operation func(ctx context.Context) error

// Config holds the minimum inter-request interval per category.
type Config struct {
	AuthInterval     time.Duration
	StandardInterval time.Duration
	HeavyInterval    time.Duration
}

// DefaultConfig returns the stock spacing: auth and heavy calls are throttled
// harder than standard traffic.
func DefaultConfig() Config {
	return Config{
		AuthInterval:     1 * time.Second,
		StandardInterval: 250 * time.Millisecond,
		HeavyInterval:    2 * time.Second,
	}
}

type ledgerKey struct {
	cat Category
	key string
}

// Governor owns the throttle ledger and the per-category execution slots.
// Construct one per process and pass it by reference to every call site;
// Reset exists for test isolation.
type Governor struct {
	intervals map[Category]time.Duration
	slots     map[Category]chan struct{}

	mu   sync.Mutex
	last map[ledgerKey]time.Time
}

// New creates a governor with the given per-category intervals.
func New(cfg Config) *Governor {
	g := &Governor{
		intervals: map[Category]time.Duration{
			CategoryAuth:     cfg.AuthInterval,
			CategoryStandard: cfg.StandardInterval,
			CategoryHeavy:    cfg.HeavyInterval,
		},
		slots: make(map[Category]chan struct{}),
		last:  make(map[ledgerKey]time.Time),
	}
	for cat := range g.intervals {
		g.slots[cat] = make(chan struct{}, 1)
	}
	return g
}

// Do runs op under the category's throttle and execution slot.
//
// The dispatch time for (category, key) is claimed in the ledger before any
// waiting happens, so concurrent callers racing on the same key stack their
// delays against the same baseline instead of all measuring from a stale
// timestamp. Slot admission is interval-driven, not FIFO: a later caller whose
// interval has already elapsed may take the slot ahead of an earlier caller
// still waiting out its own spacing.
//
// The spacing delay and the slot wait respect ctx; a running operation does
// not get cancelled. op's result is propagated unchanged.
func (g *Governor) Do(ctx context.Context, cat Category, key string, op Operation) error {
	interval, ok := g.intervals[cat]
	if !ok {
		return fmt.Errorf("governor: unknown category %q", cat)
	}

	at := g.claim(cat, key, interval)
	if wait := time.Until(at); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	slot := g.slots[cat]
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Release on every exit path, including an op panic.
	defer func() { <-slot }()

	return op(ctx)
}

// claim records the scheduled dispatch time for the pair and returns it.
func (g *Governor) claim(cat Category, key string, interval time.Duration) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := ledgerKey{cat: cat, key: key}
	at := time.Now()
	if last, ok := g.last[k]; ok {
		if next := last.Add(interval); next.After(at) {
			at = next
		}
	}
	g.last[k] = at
	return at
}

// Reset clears the throttle ledger. In-flight operations keep their slots;
// only the spacing history is discarded.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[ledgerKey]time.Time)
}

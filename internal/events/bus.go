package events

import (
	"log/slog"
	"sync"
)

// Handler receives a dispatched event. Handlers for the same name run
// sequentially in registration order; a panicking handler is recovered and
// logged so its siblings still run.
type Handler func(Event)

// Subscription is the handle returned by Subscribe. Unsubscribing through the
// handle removes exactly this registration, so the same function can be
// registered more than once without ambiguity.
type Subscription struct {
	bus  *Bus
	name string
	id   uint64
	fn   Handler
}

// Unsubscribe removes the subscription from the bus. Safe to call more than
// once.
func (s *Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.remove(s.name, s.id)
		s.bus = nil
	}
}

// Bus is a typed registry mapping event names to ordered handler lists.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]*Subscription
	log    *slog.Logger
}

// NewBus creates an empty event bus. A nil logger falls back to slog.Default.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subs: make(map[string][]*Subscription),
		log:  log,
	}
}

// Subscribe registers a handler for the named event and returns its handle.
func (b *Bus) Subscribe(name string, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{bus: b, name: name, id: b.nextID, fn: fn}
	b.subs[name] = append(b.subs[name], sub)
	return sub
}

// Clear removes every handler registered for the named event.
func (b *Bus) Clear(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[name] {
		sub.bus = nil
	}
	delete(b.subs, name)
}

// Publish invokes every handler currently registered for the event's name, in
// registration order. A handler panic is isolated: it is logged and the
// remaining handlers still run.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	// Snapshot so handlers may subscribe/unsubscribe during dispatch without
	// invalidating this iteration.
	subs := make([]*Subscription, len(b.subs[ev.Name]))
	copy(subs, b.subs[ev.Name])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(sub, ev)
	}
}

func (b *Bus) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	sub.fn(ev)
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[name] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

package timeline

import (
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/events"
)

// pendingRing is a fixed-size ring of patch events whose base message has not
// arrived yet. When the ring is full the oldest pending patch is overwritten;
// the caller logs the drop. Bounding the buffer prevents a stream of patches
// for never-delivered messages from growing without limit.
type pendingRing struct {
	buf  []events.Event
	head int // write position
	tail int // read position
	full bool
}

func newPendingRing(size int) *pendingRing {
	if size <= 0 {
		size = 32
	}
	return &pendingRing{buf: make([]events.Event, size)}
}

// push stores a patch, returning the evicted event and true when the ring had
// to overwrite its oldest entry.
func (r *pendingRing) push(ev events.Event) (events.Event, bool) {
	var evicted events.Event
	dropped := false
	if r.full {
		evicted = r.buf[r.tail]
		r.tail = (r.tail + 1) % len(r.buf)
		dropped = true
	}
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.head == r.tail {
		r.full = true
	}
	return evicted, dropped
}

// drain removes and returns, in arrival order, every pending patch accepted by
// keep == true for the match function.
func (r *pendingRing) drain(match func(events.Event) bool) []events.Event {
	n := r.len()
	if n == 0 {
		return nil
	}

	var matched []events.Event
	kept := make([]events.Event, 0, n)
	for i := 0; i < n; i++ {
		ev := r.buf[(r.tail+i)%len(r.buf)]
		if match(ev) {
			matched = append(matched, ev)
		} else {
			kept = append(kept, ev)
		}
	}

	r.tail = 0
	r.head = copy(r.buf, kept) % len(r.buf)
	r.full = len(kept) == len(r.buf)
	return matched
}

func (r *pendingRing) len() int {
	if r.full {
		return len(r.buf)
	}
	if r.head >= r.tail {
		return r.head - r.tail
	}
	return len(r.buf) - r.tail + r.head
}

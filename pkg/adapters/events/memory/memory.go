package memory

import (
	"context"
	"sync"

	"github.com/aescanero/reactor/pkg/events"
)

// Journal keeps the most recent change events in a ring buffer.
type Journal struct {
	mu    sync.RWMutex
	buf   []events.ChangeEvent
	next  int
	full  bool
	total uint64
}

// NewJournal creates a journal holding up to capacity events.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 256
	}
	return &Journal{buf: make([]events.ChangeEvent, capacity)}
}

// Attach records every event emitted on bus until the returned function is
// called.
func (j *Journal) Attach(bus *events.Bus) (detach func()) {
	return bus.Subscribe(j.Handle)
}

// Handle records ev. It has the shape of an events.Handler.
func (j *Journal) Handle(_ context.Context, ev events.ChangeEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.buf[j.next] = ev
	j.next = (j.next + 1) % len(j.buf)
	if j.next == 0 {
		j.full = true
	}
	j.total++
}

// Recent returns up to limit events, oldest first, optionally filtered by
// type. A non-positive limit returns everything retained.
func (j *Journal) Recent(t events.ChangeType, limit int) []events.ChangeEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()

	ordered := make([]events.ChangeEvent, 0, len(j.buf))
	if j.full {
		ordered = append(ordered, j.buf[j.next:]...)
	}
	ordered = append(ordered, j.buf[:j.next]...)

	out := ordered[:0]
	for _, ev := range ordered {
		if t == "" || ev.Type == t {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Total returns how many events were recorded, including evicted ones.
func (j *Journal) Total() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.total
}

// Len returns how many events are retained.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.full {
		return len(j.buf)
	}
	return j.next
}

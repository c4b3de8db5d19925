package reactive

import (
	"errors"
	"sync"
)

// MaxNotifyRounds bounds how many queued changes a single dispatch delivers.
const MaxNotifyRounds = 100

// ErrNotifyLoop is returned when listeners keep writing to the container they
// are listening to.
var ErrNotifyLoop = errors.New("reactive: change notification loop")

// Listener receives the new and previous value of a container.
type Listener[T any] func(newValue, oldValue T)

type listenerEntry[T any] struct {
	id uint64
	fn Listener[T]
}

type change[T any] struct {
	newValue T
	oldValue T
}

// notifier queues changes and delivers them to listeners without holding any
// lock while a listener runs.
type notifier[T any] struct {
	mu          sync.Mutex
	listeners   []listenerEntry[T]
	nextID      uint64
	queue       []change[T]
	dispatching bool
}

func (n *notifier[T]) add(fn Listener[T]) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, listenerEntry[T]{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *notifier[T]) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, l := range n.listeners {
		if l.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *notifier[T]) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

// enqueue must be called while the owner still holds its value lock so that
// queued changes follow the order in which values were written.
func (n *notifier[T]) enqueue(newValue, oldValue T) {
	n.mu.Lock()
	n.queue = append(n.queue, change[T]{newValue: newValue, oldValue: oldValue})
	n.mu.Unlock()
}

// drain delivers queued changes. Only one goroutine drains at a time; others
// return immediately and their changes are delivered by the active drainer.
func (n *notifier[T]) drain() (err error) {
	n.mu.Lock()
	if n.dispatching {
		n.mu.Unlock()
		return nil
	}
	n.dispatching = true

	defer func() {
		if r := recover(); r != nil {
			n.mu.Lock()
			n.dispatching = false
			n.queue = nil
			n.mu.Unlock()
			panic(r)
		}
	}()

	rounds := 0
	for len(n.queue) > 0 {
		if rounds >= MaxNotifyRounds {
			n.queue = nil
			n.dispatching = false
			n.mu.Unlock()
			return ErrNotifyLoop
		}
		c := n.queue[0]
		n.queue = n.queue[1:]
		listeners := make([]listenerEntry[T], len(n.listeners))
		copy(listeners, n.listeners)
		n.mu.Unlock()

		for _, l := range listeners {
			l.fn(c.newValue, c.oldValue)
		}

		n.mu.Lock()
		rounds++
	}
	n.dispatching = false
	n.mu.Unlock()
	return nil
}

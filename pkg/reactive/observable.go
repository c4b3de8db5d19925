package reactive

import (
	"reflect"
	"sync"
)

// Source is anything a derivation can depend on.
type Source[T any] interface {
	// Peek returns the current value without recording a dependency.
	Peek() T
	// Track returns the current value and records the dependency in s.
	Track(s *Scope) T
	// OnChange registers a listener for value changes.
	OnChange(fn Listener[T]) (unsubscribe func())
}

// Option configures an Observable or a Derived value.
type Option[T any] func(*options[T])

type options[T any] struct {
	equal func(a, b T) bool
}

// WithEquality replaces the structural equality used to decide whether a
// write is a change.
func WithEquality[T any](equal func(a, b T) bool) Option[T] {
	return func(o *options[T]) {
		o.equal = equal
	}
}

func buildOptions[T any](opts []Option[T]) options[T] {
	o := options[T]{
		equal: func(a, b T) bool { return reflect.DeepEqual(a, b) },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Observable is a reactive value container. It is safe for concurrent use.
type Observable[T any] struct {
	mu    sync.Mutex
	value T
	equal func(a, b T) bool

	dependents dependents
	n          notifier[T]
}

// New creates an Observable holding initial.
func New[T any](initial T, opts ...Option[T]) *Observable[T] {
	o := buildOptions(opts)
	return &Observable[T]{
		value: initial,
		equal: o.equal,
	}
}

// Get returns the current value. Inside a derivation use Track instead so the
// read is recorded as a dependency.
func (o *Observable[T]) Get() T {
	return o.Peek()
}

// Track returns the current value and records o as a dependency of the
// derivation that owns s. A nil scope makes it a plain read.
func (o *Observable[T]) Track(s *Scope) T {
	s.track(o, o.addDependent)
	return o.Peek()
}

// Peek returns the current value without recording a dependency.
func (o *Observable[T]) Peek() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set stores v and notifies listeners if it differs from the current value.
func (o *Observable[T]) Set(v T) error {
	return o.Update(func(T) T { return v })
}

// Update atomically replaces the value with fn(current) and notifies
// listeners if the result differs from the current value.
func (o *Observable[T]) Update(fn func(current T) T) error {
	o.mu.Lock()
	old := o.value
	next := fn(old)
	if o.equal(old, next) {
		o.mu.Unlock()
		return nil
	}
	o.value = next
	o.n.enqueue(next, old)
	invalidations := o.dependents.snapshot()
	o.mu.Unlock()

	for _, invalidate := range invalidations {
		invalidate()
	}
	return o.n.drain()
}

// OnChange registers fn to be called after every change. The returned
// function removes the listener; calling it more than once is harmless.
func (o *Observable[T]) OnChange(fn Listener[T]) (unsubscribe func()) {
	return o.n.add(fn)
}

// ListenerCount returns the number of registered listeners.
func (o *Observable[T]) ListenerCount() int {
	return o.n.count()
}

func (o *Observable[T]) addDependent(invalidate func()) func() {
	return o.dependents.add(invalidate)
}

// dependents holds invalidation callbacks of derived values.
type dependents struct {
	mu     sync.Mutex
	nextID uint64
	fns    map[uint64]func()
}

func (d *dependents) add(fn func()) func() {
	d.mu.Lock()
	if d.fns == nil {
		d.fns = make(map[uint64]func())
	}
	d.nextID++
	id := d.nextID
	d.fns[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.fns, id)
		d.mu.Unlock()
	}
}

func (d *dependents) snapshot() []func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	fns := make([]func(), 0, len(d.fns))
	for _, fn := range d.fns {
		fns = append(fns, fn)
	}
	return fns
}

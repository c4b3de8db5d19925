package reactive

import "sync"

// Scope records the sources read by one run of a derivation.
type Scope struct {
	seen     map[any]struct{}
	registry []func(invalidate func()) func()
}

func (s *Scope) track(src any, register func(invalidate func()) func()) {
	if s == nil {
		return
	}
	if s.seen == nil {
		s.seen = make(map[any]struct{})
	}
	if _, ok := s.seen[src]; ok {
		return
	}
	s.seen[src] = struct{}{}
	s.registry = append(s.registry, register)
}

// Derived is a value computed from other sources. It is safe for concurrent
// use; the compute function must be pure.
type Derived[T any] struct {
	mu      sync.Mutex
	compute func(*Scope) T
	equal   func(a, b T) bool

	value T
	valid bool
	// seen is the value listeners last observed.
	seen   T
	unsubs []func()

	dependents dependents
	n          notifier[T]
}

// Derive creates a lazily computed value.
func Derive[T any](compute func(*Scope) T, opts ...Option[T]) *Derived[T] {
	o := buildOptions(opts)
	return &Derived[T]{
		compute: compute,
		equal:   o.equal,
	}
}

// Get returns the current value, recomputing it if a dependency changed since
// the last computation.
func (d *Derived[T]) Get() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentLocked()
}

// Peek is Get; a derived value has no separate tracked read.
func (d *Derived[T]) Peek() T {
	return d.Get()
}

// Track returns the current value and records d as a dependency of the
// derivation that owns s.
func (d *Derived[T]) Track(s *Scope) T {
	s.track(d, d.addDependent)
	return d.Get()
}

// OnChange registers fn to be called when the derived value changes.
func (d *Derived[T]) OnChange(fn Listener[T]) (unsubscribe func()) {
	d.mu.Lock()
	d.seen = d.currentLocked()
	d.mu.Unlock()
	return d.n.add(fn)
}

// Dispose drops the subscriptions this value holds on its sources.
func (d *Derived[T]) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
	d.valid = false
}

func (d *Derived[T]) addDependent(invalidate func()) func() {
	return d.dependents.add(invalidate)
}

func (d *Derived[T]) currentLocked() T {
	if !d.valid {
		d.recomputeLocked()
	}
	return d.value
}

func (d *Derived[T]) recomputeLocked() {
	scope := &Scope{}
	v := d.compute(scope)

	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = d.unsubs[:0]
	for _, register := range scope.registry {
		d.unsubs = append(d.unsubs, register(d.invalidate))
	}

	d.value = v
	d.valid = true
}

func (d *Derived[T]) invalidate() {
	d.mu.Lock()
	if !d.valid {
		d.mu.Unlock()
		return
	}
	d.valid = false
	downstream := d.dependents.snapshot()
	listening := d.n.count() > 0
	d.mu.Unlock()

	for _, invalidate := range downstream {
		invalidate()
	}
	if listening {
		schedule(d, d.refresh)
	}
}

func (d *Derived[T]) refresh() {
	d.mu.Lock()
	old := d.seen
	v := d.currentLocked()
	if d.equal(old, v) {
		d.mu.Unlock()
		return
	}
	d.seen = v
	d.n.enqueue(v, old)
	d.mu.Unlock()

	_ = d.n.drain()
}

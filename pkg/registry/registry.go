// Package registry hands out memoized service instances keyed by constructor
// identity and constructor arguments.
package registry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidArgs is returned when constructor arguments cannot be encoded
// into an instance key.
var ErrInvalidArgs = errors.New("registry: arguments cannot be keyed")

var ctorIDs atomic.Uint64

// Constructor is the identity under which instances are registered. Two
// constructors built from the same function are still distinct.
type Constructor[T any] struct {
	id   uint64
	name string
	fn   func(args ...any) (T, error)
}

// NewConstructor wraps fn into a constructor identity.
func NewConstructor[T any](name string, fn func(args ...any) (T, error)) *Constructor[T] {
	return &Constructor[T]{
		id:   ctorIDs.Add(1),
		name: name,
		fn:   fn,
	}
}

// Name returns the constructor name.
func (c *Constructor[T]) Name() string {
	return c.name
}

// Key identifies one instance: a constructor plus its ordered arguments.
type Key uint64

func (k Key) String() string {
	return strconv.FormatUint(uint64(k), 16)
}

// KeyOf returns the instance key for c and args. Arguments are compared by
// their JSON encoding, so structurally equal arguments give equal keys.
func KeyOf[T any](c *Constructor[T], args ...any) (Key, error) {
	return keyOf(c.id, args)
}

func keyOf(id uint64, args []any) (Key, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)

	h := xxhash.New()
	_, _ = h.Write(buf[:])
	_, _ = h.Write(encoded)
	return Key(h.Sum64()), nil
}

type entry struct {
	name  string
	value any
	seq   uint64
}

type initFuture struct {
	done chan struct{}
	err  error
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry stores one instance per key. It is safe for concurrent use.
type Registry struct {
	logger *zap.Logger
	group  singleflight.Group

	mu      sync.Mutex
	seq     uint64
	entries map[Key]*entry
	inits   map[Key]*initFuture
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:  zap.NewNop(),
		entries: make(map[Key]*entry),
		inits:   make(map[Key]*initFuture),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the instance registered for (c, args), constructing it on
// first use. Concurrent resolutions of the same key construct once. A
// constructor may resolve other keys but must not resolve its own.
// Resolve never initializes the instance.
func Resolve[T any](r *Registry, c *Constructor[T], args ...any) (T, error) {
	var zero T

	key, err := keyOf(c.id, args)
	if err != nil {
		return zero, err
	}
	if v, ok := r.lookup(key); ok {
		inst, _ := v.(T)
		return inst, nil
	}

	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		if v, ok := r.lookup(key); ok {
			return v, nil
		}
		inst, err := construct(c, args)
		if err != nil {
			return nil, fmt.Errorf("failed to construct %s: %w", c.name, err)
		}
		r.store(key, c.name, inst)
		r.logger.Debug("instance created", zap.String("constructor", c.name), zap.Stringer("key", key))
		return inst, nil
	})
	if err != nil {
		return zero, err
	}
	inst, _ := v.(T)
	return inst, nil
}

func construct[T any](c *Constructor[T], args []any) (inst T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.fn(args...)
}

// Initializable is an instance with an initialize step.
type Initializable interface {
	Initialize(ctx context.Context, args ...any) error
}

// WithLifecycle resolves the instance for (c, args) and initializes it with
// args. The initialization is memoized per key while it is in flight and
// after it settles, so concurrent callers share one call.
func WithLifecycle[T Initializable](ctx context.Context, r *Registry, c *Constructor[T], args ...any) (T, error) {
	var zero T

	inst, err := Resolve(r, c, args...)
	if err != nil {
		return zero, err
	}
	key, _ := keyOf(c.id, args)

	r.mu.Lock()
	f, ok := r.inits[key]
	if !ok {
		f = &initFuture{done: make(chan struct{})}
		r.inits[key] = f
	}
	r.mu.Unlock()

	if !ok {
		f.err = inst.Initialize(ctx, args...)
		close(f.done)
	}

	select {
	case <-f.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if f.err != nil {
		return zero, f.err
	}
	return inst, nil
}

// RegisterValue stores value under (c, args), replacing any previous
// instance. It is used to inject fakes and pre-built instances.
func RegisterValue[T any](r *Registry, c *Constructor[T], value T, args ...any) error {
	key, err := keyOf(c.id, args)
	if err != nil {
		return err
	}
	r.store(key, c.name, value)

	r.mu.Lock()
	delete(r.inits, key)
	r.mu.Unlock()
	return nil
}

// Unregister drops the instance stored under (c, args) without ending it and
// reports whether one was present.
func Unregister[T any](r *Registry, c *Constructor[T], args ...any) bool {
	key, err := keyOf(c.id, args)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[key]
	delete(r.entries, key)
	delete(r.inits, key)
	return ok
}

type ender interface {
	End(ctx context.Context, args ...any) error
}

// Reset ends every instance that has an End method, newest first, and
// empties the registry. All End errors are returned joined.
func (r *Registry) Reset(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[Key]*entry)
	r.inits = make(map[Key]*initFuture)
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq > entries[j].seq
	})

	var errs []error
	for _, e := range entries {
		inst, ok := e.value.(ender)
		if !ok {
			continue
		}
		if err := inst.End(ctx); err != nil {
			r.logger.Warn("failed to end instance", zap.String("constructor", e.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of stored instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) lookup(key Key) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (r *Registry) store(key Key, name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.entries[key] = &entry{name: name, value: value, seq: r.seq}
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRegistry == nil {
		defaultRegistry = New()
	}
	return defaultRegistry
}

// ResetDefault resets the process-wide registry. Tests call it between runs.
func ResetDefault(ctx context.Context) error {
	return Default().Reset(ctx)
}

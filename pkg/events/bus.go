package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrUnknownChangeType is returned for types outside the taxonomy.
	ErrUnknownChangeType = errors.New("events: unknown change type")
	// ErrDebounced is returned when an emit is dropped because the same type
	// was emitted within the debounce window.
	ErrDebounced = errors.New("events: debounced")
)

// Handler receives every event emitted on the bus. Type filtering is the
// handler's job, or use SubscribeTypes.
type Handler func(ctx context.Context, ev ChangeEvent)

// Metrics receives bus counters.
type Metrics interface {
	RecordEventEmitted(changeType string)
	RecordSubscriberPanic(changeType string)
}

type nopMetrics struct{}

func (nopMetrics) RecordEventEmitted(string)    {}
func (nopMetrics) RecordSubscriberPanic(string) {}

type subscription struct {
	id      uint64
	handler Handler
	removed atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report panicking handlers.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithDebounce drops emits of a type that arrive within d of the previous
// accepted emit of the same type. Zero disables debouncing.
func WithDebounce(d time.Duration) Option {
	return func(b *Bus) {
		b.debounce = d
	}
}

type dispatchKey struct{}

// frame marks the context of one handler call. An Emit made with it while
// the handler runs is delivered inline.
type frame struct {
	bus *Bus

	// mu is held while a nested emission runs inline.
	mu     sync.Mutex
	closed bool
}

// enter claims the frame for an inline emission. It fails when the handler
// returned or another inline emission on the frame is running.
func (f *frame) enter() bool {
	if !f.mu.TryLock() {
		return false
	}
	if f.closed {
		f.mu.Unlock()
		return false
	}
	return true
}

func (f *frame) leave() {
	f.mu.Unlock()
}

// close waits for a running inline emission and rejects later ones.
func (f *frame) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type queuedEvent struct {
	ctx  context.Context
	ev   ChangeEvent
	subs []*subscription
}

// Bus is a synchronous, ordered publish/subscribe stream of change events.
//
// Handlers for one emission run in registration order, one emission at a
// time. An Emit made with the context a handler received, while that
// handler is still running, is delivered inline and depth-first: the nested
// event reaches every handler before the outer event reaches the remaining
// ones. Any other Emit made while an emission is being dispatched is queued
// and delivered, in order, by the dispatching goroutine once it is done; such
// an Emit returns without waiting for its handlers. Otherwise Emit returns
// after every handler ran.
type Bus struct {
	logger   *zap.Logger
	metrics  Metrics
	debounce time.Duration
	now      func() time.Time

	seq atomic.Uint64

	qmu         sync.Mutex
	dispatching bool
	queue       []queuedEvent

	mu       sync.RWMutex
	subs     []*subscription
	nextID   uint64
	lastEmit map[ChangeType]time.Time
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		logger:   zap.NewNop(),
		metrics:  nopMetrics{},
		now:      time.Now,
		lastEmit: make(map[ChangeType]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for every event. The returned function removes
// it; calling it more than once is harmless.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, &subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() { b.unsubscribe(id) }
}

// SubscribeTypes registers handler for the given types only.
func (b *Bus) SubscribeTypes(handler Handler, types ...ChangeType) (unsubscribe func()) {
	wanted := make(map[ChangeType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}
	return b.Subscribe(func(ctx context.Context, ev ChangeEvent) {
		if _, ok := wanted[ev.Type]; ok {
			handler(ctx, ev)
		}
	})
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			sub.removed.Store(true)
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit builds a ChangeEvent and delivers it to every handler registered at
// the time of the call that has not unsubscribed since. An empty source is
// recorded as SourceSystem. Emit never blocks on another emission.
func (b *Bus) Emit(ctx context.Context, t ChangeType, payload any, source Source) (ChangeEvent, error) {
	if !t.Valid() {
		return ChangeEvent{}, fmt.Errorf("%w: %q", ErrUnknownChangeType, t)
	}
	if source == "" {
		source = SourceSystem
	}

	now := b.now()

	b.mu.Lock()
	if b.debounce > 0 {
		if last, ok := b.lastEmit[t]; ok && now.Sub(last) < b.debounce {
			b.mu.Unlock()
			b.logger.Debug("debouncing change event",
				zap.String("type", string(t)),
				zap.Duration("since_last", now.Sub(last)))
			return ChangeEvent{}, ErrDebounced
		}
	}
	b.lastEmit[t] = now
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	ev := ChangeEvent{
		ID:        uuid.New(),
		Type:      t,
		Payload:   payload,
		Timestamp: now,
		Sequence:  b.seq.Add(1),
		Source:    source,
	}
	b.metrics.RecordEventEmitted(string(t))

	if f, _ := ctx.Value(dispatchKey{}).(*frame); f != nil && f.bus == b && f.enter() {
		defer f.leave()
		b.deliver(ctx, ev, subs)
		return ev, nil
	}

	b.qmu.Lock()
	if b.dispatching {
		b.queue = append(b.queue, queuedEvent{ctx: ctx, ev: ev, subs: subs})
		b.qmu.Unlock()
		b.logger.Debug("queueing change event behind running dispatch",
			zap.String("type", string(t)),
			zap.Uint64("sequence", ev.Sequence))
		return ev, nil
	}
	b.dispatching = true
	b.qmu.Unlock()

	b.deliver(ctx, ev, subs)
	b.drain()
	return ev, nil
}

// drain delivers queued events until the queue is empty, then gives up the
// dispatcher role.
func (b *Bus) drain() {
	for {
		b.qmu.Lock()
		if len(b.queue) == 0 {
			b.dispatching = false
			b.qmu.Unlock()
			return
		}
		next := b.queue[0]
		b.queue[0] = queuedEvent{}
		b.queue = b.queue[1:]
		b.qmu.Unlock()

		b.deliver(next.ctx, next.ev, next.subs)
	}
}

func (b *Bus) deliver(ctx context.Context, ev ChangeEvent, subs []*subscription) {
	b.logger.Debug("emitting change event",
		zap.String("type", string(ev.Type)),
		zap.String("source", string(ev.Source)),
		zap.Uint64("sequence", ev.Sequence))

	for _, sub := range subs {
		if sub.removed.Load() {
			continue
		}
		f := &frame{bus: b}
		b.safeCall(context.WithValue(ctx, dispatchKey{}, f), sub.handler, ev)
		f.close()
	}
}

// QueueLen returns how many emitted events wait for the running dispatch.
func (b *Bus) QueueLen() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return len(b.queue)
}

func (b *Bus) safeCall(ctx context.Context, handler Handler, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordSubscriberPanic(string(ev.Type))
			b.logger.Error("change event handler panicked",
				zap.String("type", string(ev.Type)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	handler(ctx, ev)
}

// Clear removes all subscriptions and debounce state.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.removed.Store(true)
	}
	b.subs = nil
	b.lastEmit = make(map[ChangeType]time.Time)
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Detach returns a context that carries ctx's values except the dispatch
// marker. An Emit made with it from a handler is queued behind the running
// dispatch instead of being delivered inline.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, dispatchKey{}, (*frame)(nil))
}

var (
	defaultMu  sync.Mutex
	defaultBus *Bus
)

// Default returns the process-wide bus, creating it on first use.
func Default() *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBus == nil {
		defaultBus = NewBus()
	}
	return defaultBus
}

// ResetDefault replaces the process-wide bus with an empty one.
func ResetDefault(opts ...Option) *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	defaultBus = NewBus(opts...)
	return defaultBus
}

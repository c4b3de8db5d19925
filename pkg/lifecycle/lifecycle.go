package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is the position of an object in its lifecycle.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
	Ended
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrEnded is returned by Initialize once the object has ended. Ended objects
// must be reconstructed, not re-initialized.
var ErrEnded = errors.New("lifecycle: object has ended")

// Error describes a failed lifecycle operation.
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Hooks is implemented by the object that owns a Lifecycle.
type Hooks interface {
	OnInitialize(ctx context.Context, args ...any) error
}

// Ender is implemented by hooks that need to release resources on End.
type Ender interface {
	OnEnd(ctx context.Context, args ...any) error
}

// Initializer is anything with the initialize/end protocol.
type Initializer interface {
	Initialize(ctx context.Context, args ...any) error
	End(ctx context.Context, args ...any) error
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

type call struct {
	done chan struct{}
	err  error
}

func (c *call) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lifecycle is the embeddable base of every long-lived service.
type Lifecycle struct {
	name   string
	hooks  Hooks
	logger *zap.Logger

	mu     sync.Mutex
	state  State
	init   *call
	end    *call
	unsubs []func()
	deps   []Initializer
}

// New creates a Lifecycle that drives hooks.
func New(name string, hooks Hooks, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		name:   name,
		hooks:  hooks,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the name given to New.
func (l *Lifecycle) Name() string {
	return l.name
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the cached initialization error, if any.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Failed && l.init != nil {
		return l.init.err
	}
	return nil
}

// DependOn declares a dependency that is initialized, in declaration order,
// before OnInitialize runs. Dependencies are not ended by End.
func (l *Lifecycle) DependOn(deps ...Initializer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deps = append(l.deps, deps...)
}

// Track registers a function that End calls to release a subscription.
func (l *Lifecycle) Track(unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsubs = append(l.unsubs, unsubscribe)
}

// Initialize runs OnInitialize once. Concurrent callers share the in-flight
// call; later callers get the cached result. A caller whose ctx is done stops
// waiting without affecting the call.
func (l *Lifecycle) Initialize(ctx context.Context, args ...any) error {
	l.mu.Lock()
	if l.state == Ended {
		l.mu.Unlock()
		return &Error{Op: "initialize", Name: l.name, Err: ErrEnded}
	}
	if c := l.init; c != nil {
		l.mu.Unlock()
		return c.wait(ctx)
	}
	c := &call{done: make(chan struct{})}
	l.init = c
	l.state = Initializing
	deps := append([]Initializer(nil), l.deps...)
	l.mu.Unlock()

	l.logger.Debug("initializing", zap.String("name", l.name))

	err := l.initialize(ctx, deps, args)

	l.mu.Lock()
	if err != nil {
		c.err = &Error{Op: "initialize", Name: l.name, Err: err}
		l.state = Failed
	} else {
		l.state = Ready
	}
	close(c.done)
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("initialization failed", zap.String("name", l.name), zap.Error(err))
	} else {
		l.logger.Debug("initialized", zap.String("name", l.name))
	}
	return c.err
}

func (l *Lifecycle) initialize(ctx context.Context, deps []Initializer, args []any) error {
	for _, dep := range deps {
		if err := dep.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize dependency: %w", err)
		}
	}
	return guard(func() error {
		return l.hooks.OnInitialize(ctx, args...)
	})
}

// End runs OnEnd once and releases every tracked subscription. Ending an
// object that was never initialized succeeds without doing anything. End
// waits for an in-flight Initialize to settle first.
func (l *Lifecycle) End(ctx context.Context, args ...any) error {
	l.mu.Lock()
	for l.state == Initializing {
		c := l.init
		l.mu.Unlock()
		if err := c.wait(ctx); err != nil && ctx.Err() != nil {
			return err
		}
		l.mu.Lock()
	}
	if c := l.end; c != nil {
		l.mu.Unlock()
		return c.wait(ctx)
	}
	if l.state == Uninitialized {
		unsubs := l.unsubs
		l.unsubs = nil
		l.mu.Unlock()
		release(unsubs)
		return nil
	}
	c := &call{done: make(chan struct{})}
	l.end = c
	l.state = Ended
	unsubs := l.unsubs
	l.unsubs = nil
	l.mu.Unlock()

	err := l.runEnd(ctx, unsubs, args)
	if err != nil {
		c.err = &Error{Op: "end", Name: l.name, Err: err}
		l.logger.Warn("end failed", zap.String("name", l.name), zap.Error(err))
	} else {
		l.logger.Debug("ended", zap.String("name", l.name))
	}
	close(c.done)
	return c.err
}

func (l *Lifecycle) runEnd(ctx context.Context, unsubs []func(), args []any) error {
	defer release(unsubs)

	ender, ok := l.hooks.(Ender)
	if !ok {
		return nil
	}
	return guard(func() error {
		return ender.OnEnd(ctx, args...)
	})
}

func release(unsubs []func()) {
	for i := len(unsubs) - 1; i >= 0; i-- {
		unsubs[i]()
	}
}

// guard converts a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBus_EmitDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var order []string
	bus.Subscribe(func(_ context.Context, ev ChangeEvent) { order = append(order, "first:"+string(ev.Type)) })
	bus.Subscribe(func(_ context.Context, ev ChangeEvent) { order = append(order, "second:"+string(ev.Type)) })
	bus.Subscribe(func(_ context.Context, ev ChangeEvent) { order = append(order, "third:"+string(ev.Type)) })

	ev, err := bus.Emit(ctx, Login, map[string]string{"user": "u1"}, SourceUserAction)
	require.NoError(t, err)

	assert.Equal(t, []string{"first:LOGIN", "second:LOGIN", "third:LOGIN"}, order)
	assert.Equal(t, Login, ev.Type)
	assert.Equal(t, SourceUserAction, ev.Source)
	assert.Equal(t, uint64(1), ev.Sequence)
	assert.NotEqual(t, uuid.Nil, ev.ID)
}

func TestBus_EmptySourceIsSystem(t *testing.T) {
	bus := NewBus()

	ev, err := bus.Emit(context.Background(), AppInitDone, nil, "")
	require.NoError(t, err)
	assert.Equal(t, SourceSystem, ev.Source)
}

func TestBus_UnknownChangeType(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.Subscribe(func(context.Context, ChangeEvent) { calls++ })

	_, err := bus.Emit(context.Background(), ChangeType("NOPE"), nil, SourceAPI)
	assert.ErrorIs(t, err, ErrUnknownChangeType)
	assert.Zero(t, calls)
}

func TestBus_LateSubscriberMissesEarlierEvents(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	_, err := bus.Emit(ctx, Login, nil, SourceSystem)
	require.NoError(t, err)

	var got []ChangeType
	bus.Subscribe(func(_ context.Context, ev ChangeEvent) { got = append(got, ev.Type) })
	_, err = bus.Emit(ctx, Logout, nil, SourceSystem)
	require.NoError(t, err)

	assert.Equal(t, []ChangeType{Logout}, got)
}

func TestBus_SubscribeDuringEmitTakesEffectNextTime(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	lateCalls := 0
	bus.Subscribe(func(context.Context, ChangeEvent) {
		bus.Subscribe(func(context.Context, ChangeEvent) { lateCalls++ })
	})

	_, err := bus.Emit(ctx, Login, nil, SourceSystem)
	require.NoError(t, err)
	assert.Zero(t, lateCalls)
}

func TestBus_NestedEmitIsDepthFirst(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var order []string
	bus.Subscribe(func(ctx context.Context, ev ChangeEvent) {
		order = append(order, "A:"+string(ev.Type))
		if ev.Type == Login {
			_, err := bus.Emit(ctx, UserProfileRefresh, nil, SourceSystem)
			require.NoError(t, err)
		}
	})
	bus.Subscribe(func(_ context.Context, ev ChangeEvent) {
		order = append(order, "B:"+string(ev.Type))
	})

	_, err := bus.Emit(ctx, Login, nil, SourceUserAction)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"A:LOGIN",
		"A:USER_PROFILE_REFRESH",
		"B:USER_PROFILE_REFRESH",
		"B:LOGIN",
	}, order)
}

func TestBus_EmitWithoutHandlerContextIsQueued(t *testing.T) {
	tests := []struct {
		name   string
		nested func(ctx context.Context) context.Context
	}{
		{"fresh context", func(context.Context) context.Context { return context.Background() }},
		{"detached context", Detach},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus()

			var order []string
			var nested ChangeEvent
			bus.Subscribe(func(ctx context.Context, ev ChangeEvent) {
				order = append(order, "A:"+string(ev.Type))
				if ev.Type == Login {
					var err error
					nested, err = bus.Emit(tt.nested(ctx), UserProfile, nil, SourceSystem)
					assert.NoError(t, err)
					assert.Equal(t, 1, bus.QueueLen())
				}
			})
			bus.Subscribe(func(_ context.Context, ev ChangeEvent) {
				order = append(order, "B:"+string(ev.Type))
			})

			done := make(chan error, 1)
			go func() {
				_, err := bus.Emit(context.Background(), Login, nil, SourceUserAction)
				done <- err
			}()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("outer emit did not return")
			}

			assert.Equal(t, []string{
				"A:LOGIN",
				"B:LOGIN",
				"A:USER_PROFILE",
				"B:USER_PROFILE",
			}, order)
			assert.Equal(t, uint64(2), nested.Sequence)
			assert.Zero(t, bus.QueueLen())

			// The bus is still usable afterwards.
			_, err := bus.Emit(context.Background(), Chat, nil, SourceAPI)
			require.NoError(t, err)
			assert.Equal(t, "B:CHAT", order[len(order)-1])
		})
	}
}

func TestBus_HandlerGoroutineEmitsInlineWhileHandlerWaits(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.Subscribe(func(ctx context.Context, ev ChangeEvent) {
		order = append(order, "A:"+string(ev.Type))
		if ev.Type != Login {
			return
		}
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bus.Emit(ctx, UserProfile, nil, SourceSystem)
			assert.NoError(t, err)
		}()
		wg.Wait()
	})
	bus.Subscribe(func(_ context.Context, ev ChangeEvent) {
		order = append(order, "B:"+string(ev.Type))
	})

	_, err := bus.Emit(context.Background(), Login, nil, SourceUserAction)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"A:LOGIN",
		"A:USER_PROFILE",
		"B:USER_PROFILE",
		"B:LOGIN",
	}, order)
}

func TestBus_StaleHandlerContextDoesNotInterleave(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var trace []ChangeType
	running, overlapped := 0, false

	secondStarted := make(chan struct{})
	emitted := make(chan error, 1)
	bus.Subscribe(func(ctx context.Context, ev ChangeEvent) {
		if ev.Type != Chat {
			return
		}
		// Outlives the handler and reuses its context.
		go func() {
			<-secondStarted
			_, err := bus.Emit(ctx, Login, nil, SourceSystem)
			emitted <- err
		}()
	})
	bus.Subscribe(func(_ context.Context, ev ChangeEvent) {
		mu.Lock()
		running++
		if running > 1 {
			overlapped = true
		}
		trace = append(trace, ev.Type)
		mu.Unlock()

		if ev.Type == Chat {
			close(secondStarted)
			time.Sleep(20 * time.Millisecond)
		}

		mu.Lock()
		running--
		mu.Unlock()
	})

	_, err := bus.Emit(context.Background(), Chat, nil, SourceAPI)
	require.NoError(t, err)
	require.NoError(t, <-emitted)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, overlapped)
	assert.Equal(t, []ChangeType{Chat, Login}, trace)
}

func TestBus_UnsubscribedHandlerSkipsQueuedEvents(t *testing.T) {
	bus := NewBus()

	lateCalls := 0
	var unsubscribe func()
	bus.Subscribe(func(ctx context.Context, ev ChangeEvent) {
		if ev.Type == Login {
			_, err := bus.Emit(context.Background(), Logout, nil, SourceSystem)
			assert.NoError(t, err)
			unsubscribe()
		}
	})
	unsubscribe = bus.Subscribe(func(context.Context, ChangeEvent) { lateCalls++ })

	_, err := bus.Emit(context.Background(), Login, nil, SourceSystem)
	require.NoError(t, err)
	assert.Zero(t, lateCalls)
}

func TestBus_EmissionsDoNotInterleave(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var mu sync.Mutex
	var trace []string
	inHandler := false
	overlapped := false
	bus.Subscribe(func(_ context.Context, ev ChangeEvent) {
		mu.Lock()
		if inHandler {
			overlapped = true
		}
		inHandler = true
		trace = append(trace, string(ev.Type))
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inHandler = false
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = bus.Emit(ctx, Chat, nil, SourceAPI)
		}()
	}
	wg.Wait()

	assert.False(t, overlapped)
	assert.Len(t, trace, 10)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	metrics := &countingMetrics{}
	bus := NewBus(WithLogger(zap.New(core)), WithMetrics(metrics))

	calls := 0
	bus.Subscribe(func(context.Context, ChangeEvent) { calls++ })
	bus.Subscribe(func(context.Context, ChangeEvent) { panic("handler bug") })
	bus.Subscribe(func(context.Context, ChangeEvent) { calls++ })

	_, err := bus.Emit(context.Background(), UserProfile, nil, SourceSystem)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "change event handler panicked", entry.Message)
	assert.Equal(t, "USER_PROFILE", entry.ContextMap()["type"])
	assert.Equal(t, 1, metrics.panics)
	assert.Equal(t, 1, metrics.emitted)
}

func TestBus_Debounce(t *testing.T) {
	bus := NewBus(WithDebounce(300 * time.Millisecond))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return now }
	ctx := context.Background()

	calls := 0
	bus.Subscribe(func(context.Context, ChangeEvent) { calls++ })

	_, err := bus.Emit(ctx, UserProfileRefresh, nil, SourceSystem)
	require.NoError(t, err)

	now = now.Add(100 * time.Millisecond)
	_, err = bus.Emit(ctx, UserProfileRefresh, nil, SourceSystem)
	assert.ErrorIs(t, err, ErrDebounced)

	_, err = bus.Emit(ctx, Login, nil, SourceSystem)
	require.NoError(t, err, "debounce is per type")

	now = now.Add(300 * time.Millisecond)
	_, err = bus.Emit(ctx, UserProfileRefresh, nil, SourceSystem)
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
}

func TestBus_SubscribeTypes(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var got []ChangeType
	unsubscribe := bus.SubscribeTypes(func(_ context.Context, ev ChangeEvent) {
		got = append(got, ev.Type)
	}, Login, Logout)

	for _, ct := range []ChangeType{Login, Chat, Logout} {
		_, err := bus.Emit(ctx, ct, nil, SourceSystem)
		require.NoError(t, err)
	}
	unsubscribe()
	unsubscribe()
	_, err := bus.Emit(ctx, Login, nil, SourceSystem)
	require.NoError(t, err)

	assert.Equal(t, []ChangeType{Login, Logout}, got)
	assert.Zero(t, bus.SubscriptionCount())
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(func(context.Context, ChangeEvent) {})
	bus.Subscribe(func(context.Context, ChangeEvent) {})
	require.Equal(t, 2, bus.SubscriptionCount())

	bus.Clear()
	assert.Zero(t, bus.SubscriptionCount())
}

func TestDefault(t *testing.T) {
	t.Cleanup(func() { ResetDefault() })

	a := Default()
	assert.Same(t, a, Default())

	b := ResetDefault()
	assert.NotSame(t, a, b)
	assert.Same(t, b, Default())
}

func TestRegisterAndParse(t *testing.T) {
	custom := ChangeType("CAREER_HISTORY")
	_, err := ParseChangeType(string(custom))
	assert.ErrorIs(t, err, ErrUnknownChangeType)

	Register(custom)
	got, err := ParseChangeType("CAREER_HISTORY")
	require.NoError(t, err)
	assert.Equal(t, custom, got)
	assert.Contains(t, Types(), custom)
}

type countingMetrics struct {
	emitted int
	panics  int
}

func (m *countingMetrics) RecordEventEmitted(string)    { m.emitted++ }
func (m *countingMetrics) RecordSubscriberPanic(string) { m.panics++ }

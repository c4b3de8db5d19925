package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/reactor/pkg/domain"
	"github.com/aescanero/reactor/pkg/events"
	"github.com/aescanero/reactor/pkg/lifecycle"
	"github.com/aescanero/reactor/pkg/ports"
	"github.com/aescanero/reactor/pkg/reactive"
)

// Config holds the manager settings.
type Config struct {
	// DefaultWaitTimeout is used by WaitForChangeActions when the caller
	// passes a non-positive timeout.
	DefaultWaitTimeout time.Duration
	// RecordRetention is how long settled records stay in memory.
	RecordRetention time.Duration
	// MonitorInterval is the retention monitor period. Zero disables it.
	MonitorInterval time.Duration
	// InitGate, when set, queues events until an event of this type arrives.
	InitGate events.ChangeType
}

// Manager runs registered actions for change events and tracks them
type Manager struct {
	*lifecycle.Lifecycle

	bus       *events.Bus
	store     ports.RecordStore
	metrics   ports.MetricsCollector
	validator *Validator
	logger    *zap.Logger
	cfg       Config

	// Actions run with this context, never the emitter's.
	baseCtx context.Context

	mu       sync.Mutex
	actions  map[events.ChangeType][]Action
	disabled map[events.ChangeType]bool
	gateOpen bool
	closing  bool
	pending  []events.ChangeEvent
	records  map[string]*generation
	seq      uint64

	active   *reactive.Observable[int]
	progress *reactive.Observable[map[string]*domain.GenerationRecord]
	monitor  *Monitor
	wg      sync.WaitGroup
}

// generation is the in-memory state of one record. rec is guarded by
// Manager.mu; done is closed once every action settled.
type generation struct {
	seq          uint64
	rec          *domain.GenerationRecord
	order        []string
	done         chan struct{}
	failedAction string
}

// NewManager creates a new orchestrator manager. store may be nil.
func NewManager(
	bus *events.Bus,
	store ports.RecordStore,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	cfg Config,
) *Manager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if validator == nil {
		validator = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultWaitTimeout <= 0 {
		cfg.DefaultWaitTimeout = 10 * time.Second
	}

	m := &Manager{
		bus:       bus,
		store:     store,
		metrics:   metrics,
		validator: validator,
		logger:    logger,
		cfg:       cfg,
		baseCtx:   context.Background(),
		actions:   make(map[events.ChangeType][]Action),
		disabled:  make(map[events.ChangeType]bool),
		gateOpen:  cfg.InitGate == "",
		records:   make(map[string]*generation),
		active:    reactive.New(0),
		progress:  reactive.New(map[string]*domain.GenerationRecord{}),
	}
	m.Lifecycle = lifecycle.New("orchestrator", m, lifecycle.WithLogger(logger))
	if cfg.MonitorInterval > 0 {
		m.monitor = NewMonitor(m, cfg.MonitorInterval, cfg.RecordRetention, logger)
	}
	return m
}

// OnInitialize subscribes to the bus and starts the retention monitor.
func (m *Manager) OnInitialize(ctx context.Context, _ ...any) error {
	m.Track(m.bus.Subscribe(m.handleEvent))
	m.Track(m.active.OnChange(func(n, _ int) {
		m.metrics.SetActiveGenerations(n)
	}))
	if m.monitor != nil {
		m.monitor.Start()
		m.Track(m.monitor.Stop)
	}

	m.logger.Info("orchestrator started",
		zap.String("init_gate", string(m.cfg.InitGate)),
		zap.Duration("default_wait_timeout", m.cfg.DefaultWaitTimeout))
	return nil
}

// RegisterActions adds actions for change type t. Actions added while an
// event is being processed apply from the next event.
func (m *Manager) RegisterActions(t events.ChangeType, actions ...Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validator.Validate(t, m.actions[t], actions); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	m.actions[t] = append(m.actions[t][:len(m.actions[t]):len(m.actions[t])], actions...)

	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.Name
	}
	m.logger.Info("actions registered",
		zap.String("change_type", string(t)),
		zap.Strings("actions", names))
	return nil
}

// UnregisterActions removes the named actions of t, or every action of t
// when no name is given, and returns how many were removed. Running
// generations are not affected.
func (m *Manager) UnregisterActions(t events.ChangeType, names ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	kept := make([]Action, 0, len(m.actions[t]))
	for _, a := range m.actions[t] {
		if len(names) > 0 && !drop[a.Name] {
			kept = append(kept, a)
		}
	}
	removed := len(m.actions[t]) - len(kept)
	if len(kept) == 0 {
		delete(m.actions, t)
	} else {
		m.actions[t] = kept
	}

	if removed > 0 {
		m.logger.Info("actions unregistered",
			zap.String("change_type", string(t)),
			zap.Int("count", removed))
	}
	return removed
}

// Actions returns the names of the actions registered for t.
func (m *Manager) Actions(t events.ChangeType) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.actions[t]))
	for i, a := range m.actions[t] {
		names[i] = a.Name
	}
	return names
}

// handleEvent runs on the emitting goroutine and must not block on actions.
func (m *Manager) handleEvent(_ context.Context, ev events.ChangeEvent) {
	m.mu.Lock()
	if !m.gateOpen {
		if ev.Type != m.cfg.InitGate {
			m.pending = append(m.pending, ev)
			m.mu.Unlock()
			m.logger.Debug("queueing change event until init gate opens",
				zap.String("change_type", string(ev.Type)))
			return
		}
		m.gateOpen = true
		pending := m.pending
		m.pending = nil
		m.mu.Unlock()

		m.logger.Info("init gate opened, replaying queued events", zap.Int("count", len(pending)))
		for _, queued := range pending {
			m.startGeneration(queued)
		}
		m.startGeneration(ev)
		return
	}
	m.mu.Unlock()

	m.startGeneration(ev)
}

func (m *Manager) startGeneration(ev events.ChangeEvent) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		m.logger.Debug("ignoring change event during shutdown",
			zap.String("change_type", string(ev.Type)))
		return
	}
	actions := m.actions[ev.Type]
	if len(actions) == 0 {
		m.mu.Unlock()
		return
	}
	if m.disabled[ev.Type] {
		m.mu.Unlock()
		m.logger.Debug("skipping disabled change type",
			zap.String("change_type", string(ev.Type)),
			zap.String("source", string(ev.Source)))
		return
	}

	now := time.Now()
	rec := &domain.GenerationRecord{
		ID:             generationID(ev),
		ChangeType:     ev.Type,
		EventID:        ev.ID.String(),
		Status:         domain.GenerationRunning,
		StartTime:      now,
		TotalActions:   len(actions),
		CurrentAction:  actions[0].Name,
		ActionProgress: make(map[string]domain.ActionProgress, len(actions)),
	}
	order := make([]string, len(actions))
	for i, a := range actions {
		order[i] = a.Name
		rec.ActionProgress[a.Name] = domain.ActionProgress{
			ActionName: a.Name,
			Status:     domain.ActionStarted,
			Timestamp:  now,
		}
	}
	m.seq++
	g := &generation{seq: m.seq, rec: rec, order: order, done: make(chan struct{})}
	m.records[rec.ID] = g
	m.wg.Add(len(actions))
	m.mu.Unlock()

	_ = m.active.Update(func(n int) int { return n + 1 })
	m.publishProgress()
	m.metrics.RecordGenerationStarted(string(ev.Type))
	m.logger.Info("generation started",
		zap.String("generation_id", rec.ID),
		zap.String("change_type", string(ev.Type)),
		zap.Int("actions", len(actions)))

	for _, a := range actions {
		go m.runAction(g, a, ev.Payload)
	}
}

func (m *Manager) runAction(g *generation, a Action, payload any) {
	defer m.wg.Done()

	start := time.Now()
	err := safeRun(m.baseCtx, a, payload)
	m.settle(g, a.Name, err, time.Since(start))
}

func safeRun(ctx context.Context, a Action, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Run(ctx, payload)
}

func (m *Manager) settle(g *generation, name string, err error, took time.Duration) {
	now := time.Now()
	status := domain.ActionCompleted

	m.mu.Lock()
	rec := g.rec
	progress := domain.ActionProgress{
		ActionName: name,
		Status:     domain.ActionCompleted,
		Timestamp:  now,
	}
	if err != nil {
		status = domain.ActionFailed
		progress.Status = domain.ActionFailed
		progress.Error = err.Error()
		if g.failedAction == "" {
			g.failedAction = name
			rec.Error = err.Error()
		}
	}
	rec.ActionProgress[name] = progress
	rec.CompletedActions++
	rec.CurrentAction = ""
	for _, n := range g.order {
		if !rec.ActionProgress[n].Settled() {
			rec.CurrentAction = n
			break
		}
	}

	var settled *domain.GenerationRecord
	if rec.CompletedActions == rec.TotalActions {
		rec.EndTime = &now
		rec.Status = domain.GenerationCompleted
		if g.failedAction != "" {
			rec.Status = domain.GenerationFailed
		}
		settled = rec.Clone()
		close(g.done)
	}
	m.mu.Unlock()

	m.publishProgress()
	m.metrics.RecordActionFinished(string(rec.ChangeType), name, string(status), took)
	if err != nil {
		m.logger.Warn("action failed",
			zap.String("generation_id", rec.ID),
			zap.String("action", name),
			zap.Error(err))
	}
	if settled == nil {
		return
	}

	_ = m.active.Update(func(n int) int { return n - 1 })
	m.metrics.RecordGenerationFinished(string(settled.ChangeType), string(settled.Status), now.Sub(settled.StartTime))
	m.logger.Info("generation finished",
		zap.String("generation_id", settled.ID),
		zap.String("change_type", string(settled.ChangeType)),
		zap.String("status", string(settled.Status)),
		zap.Duration("duration", now.Sub(settled.StartTime)))

	if m.store != nil {
		if err := m.store.Save(m.baseCtx, settled); err != nil {
			m.logger.Error("failed to save generation record",
				zap.String("generation_id", settled.ID),
				zap.Error(err))
		}
	}
}

// WaitForChangeActions waits until every generation of t that is running at
// the time of the call has settled. It returns nil immediately when none is
// running, a *TimeoutError when timeout elapses first and an *ActionError
// carrying the first failure otherwise. A non-positive timeout uses the
// configured default.
func (m *Manager) WaitForChangeActions(ctx context.Context, t events.ChangeType, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.cfg.DefaultWaitTimeout
	}

	m.mu.Lock()
	var running []*generation
	for _, g := range m.records {
		if g.rec.ChangeType == t && g.rec.Running() {
			running = append(running, g)
		}
	}
	m.mu.Unlock()

	if len(running) == 0 {
		return nil
	}
	sortBySeq(running)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i, g := range running {
		select {
		case <-g.done:
		case <-timer.C:
			m.metrics.RecordWaitTimeout(string(t))
			m.logger.Warn("timeout waiting for change actions",
				zap.String("change_type", string(t)),
				zap.Duration("timeout", timeout))
			return &TimeoutError{ChangeType: t, Timeout: timeout, Pending: len(running) - i}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range running {
		if g.failedAction != "" {
			return &ActionError{
				ChangeType:   t,
				GenerationID: g.rec.ID,
				Action:       g.failedAction,
				Message:      g.rec.Error,
			}
		}
	}
	return nil
}

// Records returns snapshots of the in-memory records of t, oldest first. An
// empty t returns every record.
func (m *Manager) Records(t events.ChangeType) []*domain.GenerationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	gens := make([]*generation, 0, len(m.records))
	for _, g := range m.records {
		if t == "" || g.rec.ChangeType == t {
			gens = append(gens, g)
		}
	}
	sortBySeq(gens)

	out := make([]*domain.GenerationRecord, len(gens))
	for i, g := range gens {
		out[i] = g.rec.Clone()
	}
	return out
}

func sortBySeq(gens []*generation) {
	sort.Slice(gens, func(i, j int) bool { return gens[i].seq < gens[j].seq })
}

// Record returns a snapshot of the record with the given id, looking in the
// record store when it is no longer in memory.
func (m *Manager) Record(ctx context.Context, id string) (*domain.GenerationRecord, error) {
	m.mu.Lock()
	g, ok := m.records[id]
	var rec *domain.GenerationRecord
	if ok {
		rec = g.rec.Clone()
	}
	m.mu.Unlock()

	if ok {
		return rec, nil
	}
	if m.store == nil {
		return nil, ErrNotFound
	}
	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load generation record: %w", err)
	}
	return rec, nil
}

// Prune drops settled records that ended before cutoff and returns how many
// were removed. Stored copies are kept.
func (m *Manager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	removed := 0
	for id, g := range m.records {
		if g.rec.EndTime != nil && g.rec.EndTime.Before(cutoff) {
			delete(m.records, id)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.publishProgress()
	}
	return removed
}

// ActiveGenerations is the number of running generations. Listeners are
// called from action goroutines.
func (m *Manager) ActiveGenerations() *reactive.Observable[int] {
	return m.active
}

// Progress holds a snapshot of every in-memory record keyed by generation
// id. It is replaced whenever a generation starts, an action settles or
// records are pruned; listeners must treat the map as read-only.
func (m *Manager) Progress() *reactive.Observable[map[string]*domain.GenerationRecord] {
	return m.progress
}

// publishProgress must be called without m.mu held.
func (m *Manager) publishProgress() {
	err := m.progress.Update(func(map[string]*domain.GenerationRecord) map[string]*domain.GenerationRecord {
		m.mu.Lock()
		defer m.mu.Unlock()

		snapshot := make(map[string]*domain.GenerationRecord, len(m.records))
		for id, g := range m.records {
			snapshot[id] = g.rec.Clone()
		}
		return snapshot
	})
	if err != nil {
		m.logger.Warn("failed to publish generation progress", zap.Error(err))
	}
}

// PendingEvents returns how many events are queued behind the init gate.
func (m *Manager) PendingEvents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// EnableChangeType resumes processing of t.
func (m *Manager) EnableChangeType(t events.ChangeType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.disabled, t)
}

// DisableChangeType makes the manager ignore events of t. Running
// generations are not affected.
func (m *Manager) DisableChangeType(t events.ChangeType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled[t] = true
}

// EnableAll enables every change type.
func (m *Manager) EnableAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = make(map[events.ChangeType]bool)
}

// DisableAll disables every change type that has actions registered.
func (m *Manager) DisableAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t := range m.actions {
		m.disabled[t] = true
	}
}

// IsEnabled reports whether events of t are processed.
func (m *Manager) IsEnabled(t events.ChangeType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disabled[t]
}

// EnabledTypes returns the change types with actions that are enabled.
func (m *Manager) EnabledTypes() []events.ChangeType {
	m.mu.Lock()
	out := make([]events.ChangeType, 0, len(m.actions))
	for t := range m.actions {
		if !m.disabled[t] {
			out = append(out, t)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Shutdown unsubscribes from the bus and waits for running actions until ctx
// is done. Actions are never cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	// No generation may start once the wait below begins.
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	if err := m.End(ctx); err != nil {
		m.logger.Warn("failed to end orchestrator", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

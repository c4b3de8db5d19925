package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor periodically prunes settled generation records
type Monitor struct {
	manager   *Manager
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewMonitor creates a new retention monitor
func NewMonitor(manager *Manager, interval, retention time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		manager:   manager,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Start starts the monitor
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	go m.run(m.stopCh)
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

// run is the main monitoring loop
func (m *Monitor) run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.check(time.Now())
		}
	}
}

func (m *Monitor) check(now time.Time) {
	removed := m.manager.Prune(now.Add(-m.retention))
	active := m.manager.ActiveGenerations().Peek()

	if removed > 0 || active > 0 {
		m.logger.Debug("generation records checked",
			zap.Int("pruned", removed),
			zap.Int("active", active))
	}
}

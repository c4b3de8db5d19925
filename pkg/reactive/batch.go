package reactive

import "sync"

var batch struct {
	mu      sync.Mutex
	depth   int
	pending []func()
	queued  map[any]struct{}
}

// Batch runs fn and defers derived-value notifications until the outermost
// Batch returns, so a group of writes produces at most one notification per
// derived value. Listeners of plain Observables are still called on every
// write. Batching is process-wide.
func Batch(fn func()) {
	batch.mu.Lock()
	batch.depth++
	batch.mu.Unlock()

	defer endBatch()
	fn()
}

func endBatch() {
	batch.mu.Lock()
	batch.depth--
	if batch.depth > 0 {
		batch.mu.Unlock()
		return
	}
	pending := batch.pending
	batch.pending = nil
	batch.queued = nil
	batch.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// schedule runs fn now, or once at the end of the current batch.
func schedule(key any, fn func()) {
	batch.mu.Lock()
	if batch.depth == 0 {
		batch.mu.Unlock()
		fn()
		return
	}
	if batch.queued == nil {
		batch.queued = make(map[any]struct{})
	}
	if _, ok := batch.queued[key]; ok {
		batch.mu.Unlock()
		return
	}
	batch.queued[key] = struct{}{}
	batch.pending = append(batch.pending, fn)
	batch.mu.Unlock()
}

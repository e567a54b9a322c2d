package pipeline

import (
	"context"
	"sync"

	"budget-etl/internal/domain"
)

// inflight is the registry's view of a run that is executing in this process.
type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// registry tracks the run ids executing in this process. It is owned by a
// Service; there is no package-level registry.
type registry struct {
	mu   sync.Mutex
	runs map[string]*inflight
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*inflight)}
}

// acquire claims runID. It fails with a ConflictError when the id is
// already in flight.
func (r *registry) acquire(runID string, cancel context.CancelFunc) (*inflight, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[runID]; ok {
		return nil, domain.ErrConflict("run %q is already in flight", runID)
	}
	f := &inflight{cancel: cancel, done: make(chan struct{})}
	r.runs[runID] = f
	return f, nil
}

// release drops runID and wakes anyone waiting on it.
func (r *registry) release(runID string) {
	r.mu.Lock()
	f, ok := r.runs[runID]
	delete(r.runs, runID)
	r.mu.Unlock()
	if ok {
		close(f.done)
	}
}

func (r *registry) get(runID string) (*inflight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.runs[runID]
	return f, ok
}

// cancel requests cancellation of runID. It reports whether the run was in flight.
func (r *registry) cancel(runID string) bool {
	f, ok := r.get(runID)
	if ok {
		f.cancel()
	}
	return ok
}

// cancelAll cancels every in-flight run and returns their done channels.
func (r *registry) cancelAll() []chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := make([]chan struct{}, 0, len(r.runs))
	for _, f := range r.runs {
		f.cancel()
		done = append(done, f.done)
	}
	return done
}

func (r *registry) inFlight(runID string) bool {
	_, ok := r.get(runID)
	return ok
}

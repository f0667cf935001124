package mesh

import "sync"

// Registry tracks live runs so an out-of-process signer can route outcome
// submissions by run ID. Runs are removed when their stream closes; the
// registry never outlives a run's consumer.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Add registers a live run.
func (r *Registry) Add(run *Run) {
	r.mu.Lock()
	r.runs[run.ID()] = run
	r.mu.Unlock()
}

// Get looks up a live run by ID.
func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.RLock()
	run, ok := r.runs[id]
	r.mu.RUnlock()
	return run, ok
}

// Remove forgets a run.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

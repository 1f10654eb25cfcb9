package jobs

import (
	"sync"
	"sync/atomic"
)

// Registry holds the cancellation flags for jobs in flight on this
// instance. Each key is owned by exactly one job; flags are removed on
// every terminal transition so the map never leaks finished jobs.
type Registry struct {
	mu    sync.Mutex
	flags map[string]*atomic.Bool
}

// NewRegistry constructs an empty flag registry.
func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]*atomic.Bool)}
}

// Register installs a fresh flag (false) for jobID.
func (r *Registry) Register(jobID string) {
	if jobID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[jobID] = &atomic.Bool{}
}

// SetCancelled flips the flag for jobID and reports whether a flag was
// registered. A missing flag means the job is not in flight here.
func (r *Registry) SetCancelled(jobID string) bool {
	r.mu.Lock()
	flag := r.flags[jobID]
	r.mu.Unlock()
	if flag == nil {
		return false
	}
	flag.Store(true)
	return true
}

// Cancelled reports the flag state for jobID, false when unregistered.
func (r *Registry) Cancelled(jobID string) bool {
	r.mu.Lock()
	flag := r.flags[jobID]
	r.mu.Unlock()
	return flag != nil && flag.Load()
}

// Remove drops jobID's flag.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, jobID)
}

// Contains reports whether a flag exists for jobID.
func (r *Registry) Contains(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.flags[jobID]
	return ok
}

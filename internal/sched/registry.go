package sched

import (
	"sync"

	"github.com/flowstate/flowstate/internal/feed"
	"github.com/flowstate/flowstate/internal/model"
)

// Registry is the process-wide view of connector health. The scheduler is
// its only writer; readers get copies via Snapshot.
type Registry struct {
	mu     sync.Mutex
	states map[model.Platform]feed.SyncState
}

func NewRegistry() *Registry {
	return &Registry{states: make(map[model.Platform]feed.SyncState)}
}

// Snapshot implements feed.StatusSource.
func (r *Registry) Snapshot() map[model.Platform]feed.SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.Platform]feed.SyncState, len(r.states))
	for platform, state := range r.states {
		out[platform] = state
	}
	return out
}

func (r *Registry) set(platform model.Platform, mutate func(*feed.SyncState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.states[platform]
	mutate(&state)
	r.states[platform] = state
}

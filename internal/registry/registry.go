// Package registry holds the authoritative state of all known runs.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/loykin/fleetrun/internal/run"
)

// DefaultRetention is the default cap on stored runs.
const DefaultRetention = 50

// ErrNotFound is returned for lookups of unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Registry stores runs for dashboard queries and live updates. Run objects
// carry their own locks; the registry lock only guards the map and
// insertion order. Retention evicts the oldest finalized runs beyond the
// cap; runs still in flight are never evicted.
type Registry struct {
	mu        sync.RWMutex
	runs      map[string]*run.Run
	order     []string // insertion order, oldest first
	retention int
}

func New(retention int) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		runs:      make(map[string]*run.Run),
		retention: retention,
	}
}

// Create registers a new run. Run IDs must be unique.
func (r *Registry) Create(rn *run.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.runs[rn.ID()]; dup {
		return fmt.Errorf("run %s already exists", rn.ID())
	}
	r.runs[rn.ID()] = rn
	r.order = append(r.order, rn.ID())
	return nil
}

// Get returns the live run for id.
func (r *Registry) Get(id string) (*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rn, nil
}

// List returns snapshots of all stored runs, most recent first.
func (r *Registry) List() []run.Summary {
	r.mu.RLock()
	ordered := make([]*run.Run, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		ordered = append(ordered, r.runs[r.order[i]])
	}
	r.mu.RUnlock()

	out := make([]run.Summary, 0, len(ordered))
	for _, rn := range ordered {
		out = append(out, rn.Summary())
	}
	return out
}

// Len reports the number of stored runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// Trim evicts the oldest finalized runs until the stored count is within
// the retention cap. Called after each run finalizes.
func (r *Registry) Trim() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runs) <= r.retention {
		return
	}
	kept := r.order[:0]
	excess := len(r.runs) - r.retention
	for _, id := range r.order {
		rn := r.runs[id]
		if excess > 0 && rn.Finalized() {
			delete(r.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

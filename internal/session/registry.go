package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry maps session ids to their owning runtimes. It is the only
// structure shared across runtimes, and it never holds its lock across I/O.
type Registry struct {
	mu       sync.Mutex
	runtimes map[uuid.UUID]*Runtime
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[uuid.UUID]*Runtime)}
}

// GetOrCreate returns the runtime registered for id, or stores the one built
// by factory if there is none. created reports whether factory ran. A
// factory error leaves the registry unchanged.
func (r *Registry) GetOrCreate(id uuid.UUID, factory func() (*Runtime, error)) (rt *Runtime, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runtimes[id]; ok {
		return existing, false, nil
	}

	rt, err = factory()
	if err != nil {
		return nil, false, err
	}
	r.runtimes[id] = rt
	return rt, true, nil
}

// Get returns the runtime for id or ErrNotFound.
func (r *Registry) Get(id uuid.UUID) (*Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.runtimes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rt, nil
}

// Remove deregisters id if it is still owned by rt. It reports whether this
// call removed the entry; later or mismatched calls are no-ops.
func (r *Registry) Remove(id uuid.UUID, rt *Runtime) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.runtimes[id]
	if !ok || current != rt {
		return false
	}
	delete(r.runtimes, id)
	return true
}

// Len returns the number of live runtimes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runtimes)
}

// All returns the live runtimes at the time of the call.
func (r *Registry) All() []*Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, rt)
	}
	return out
}

// Clear drops every entry and returns the runtimes that were registered.
func (r *Registry) Clear() []*Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Runtime, 0, len(r.runtimes))
	for id, rt := range r.runtimes {
		out = append(out, rt)
		delete(r.runtimes, id)
	}
	return out
}

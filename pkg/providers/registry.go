package providers

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages adapters by provider ID.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.ID()
	if id == "" {
		return fmt.Errorf("adapter has empty id")
	}
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.adapters[id] = a
	return nil
}

// Unregister removes an adapter. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, id)
}

// Get returns an adapter by id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return a, nil
}

// List returns all registered provider ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Snapshot returns a point-in-time copy of the registered adapters sorted by id.
// If ids is non-empty only those adapters are included; unknown ids are skipped.
func (r *Registry) Snapshot(ids ...string) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Adapter
	if len(ids) == 0 {
		out = make([]Adapter, 0, len(r.adapters))
		for _, a := range r.adapters {
			out = append(out, a)
		}
	} else {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if a, ok := r.adapters[id]; ok && !seen[id] {
				seen[id] = true
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// All returns all registered adapters sorted by id.
func (r *Registry) All() []Adapter {
	return r.Snapshot()
}

// FindByGPU returns adapters that list the given GPU type.
func (r *Registry) FindByGPU(gpuType string) []Adapter {
	var out []Adapter
	for _, a := range r.Snapshot() {
		if a.Info().OffersGPU(gpuType) {
			out = append(out, a)
		}
	}
	return out
}

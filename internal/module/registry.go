package module

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when an edit targets an id that was never created.
var ErrNotFound = errors.New("module: not found")

// Registry maps module ids to modules. Lookups materialize missing entries.
//
// The lock makes GetOrCreate a single check-and-insert step. Handles returned
// by GetOrCreate are shared pointers; callers editing them directly are
// expected to do so from the owning goroutine.
type Registry struct {
	mu      sync.RWMutex
	modules map[int]*Module
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: map[int]*Module{}}
}

// GetOrCreate returns the module for id, inserting a default one if absent.
// Repeated calls return the same handle until the id is removed.
func (r *Registry) GetOrCreate(id int) *Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modules[id]; ok {
		return m
	}
	m := newModule(id)
	r.modules[id] = m
	return m
}

// Get returns the module for id without creating it.
func (r *Registry) Get(id int) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// Mutate applies fn to the module in place.
func (r *Registry) Mutate(id int, fn func(*Module)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if fn != nil {
		fn(m)
	}
	return nil
}

// EditSource replaces the module's source text.
func (r *Registry) EditSource(id int, source string) error {
	return r.Mutate(id, func(m *Module) { m.Source = source })
}

// SetOpen records whether the module's editor is displayed.
func (r *Registry) SetOpen(id int, open bool) error {
	return r.Mutate(id, func(m *Module) { m.Open = open })
}

// Remove deletes the module and reports whether it existed.
func (r *Registry) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[id]; !ok {
		return false
	}
	delete(r.modules, id)
	return true
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// Snapshot copies every module, ordered by id.
func (r *Registry) Snapshot() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore inserts copies of the given modules, replacing entries with the same id.
func (r *Registry) Restore(modules []Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range modules {
		copied := m
		r.modules[m.ID] = &copied
	}
}

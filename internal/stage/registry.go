package stage

import (
	"fmt"
	"sync"
)

// Registry holds stages in registration order. Registration order is the
// fallback execution order when the configuration document carries no
// explicit stage_execution_order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Stage
	order  []string
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Stage)}
}

// Register adds a stage. Duplicate names and duplicate output-key claims
// are rejected: one stage owns one output key per run.
func (r *Registry) Register(s Stage) error {
	desc := s.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("stage has empty name")
	}
	if desc.OutputKey == "" {
		return fmt.Errorf("stage %q declares no output key", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[desc.Name]; exists {
		return fmt.Errorf("stage %q is already registered", desc.Name)
	}
	for _, name := range r.order {
		if other := r.byName[name].Descriptor().OutputKey; other == desc.OutputKey {
			return fmt.Errorf("stage %q claims output key %q already owned by %q", desc.Name, desc.OutputKey, name)
		}
	}

	r.byName[desc.Name] = s
	r.order = append(r.order, desc.Name)
	return nil
}

// Get returns the stage registered under name.
func (r *Registry) Get(name string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Names returns stage names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

package gates

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateGate is returned when a gate name is registered twice.
var ErrDuplicateGate = errors.New("gate already registered")

// Registry holds gates in registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Gate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Gate)}
}

// Register adds g. Names must be unique.
func (r *Registry) Register(g Gate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := g.Name()
	if name == "" {
		return errors.New("gate name cannot be empty")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateGate, name)
	}
	r.byName[name] = g
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(gates ...Gate) *Registry {
	for _, g := range gates {
		if err := r.Register(g); err != nil {
			panic(err)
		}
	}
	return r
}

// Get retrieves a gate by name.
func (r *Registry) Get(name string) (Gate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byName[name]
	return g, ok
}

// List returns gates in registration order.
func (r *Registry) List() []Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Gate, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns gate names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

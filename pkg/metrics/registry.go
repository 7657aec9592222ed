package metrics

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the wired collectors keyed by name.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]Collector)}
}

// Register adds a collector. Duplicate names are a wiring fault.
func (r *Registry) Register(c Collector) error {
	if c == nil {
		return fmt.Errorf("metrics: collector is nil")
	}
	name := c.Name()
	if name == "" {
		return fmt.Errorf("metrics: collector name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.collectors[name]; exists {
		return fmt.Errorf("metrics: collector %q already registered", name)
	}
	r.collectors[name] = c
	return nil
}

// MustRegister panics on registration failure. Wiring-time use only.
func (r *Registry) MustRegister(c Collector) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the collector for a name.
func (r *Registry) Lookup(name string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	return c, ok
}

// All returns collectors in sorted-name order for deterministic iteration.
func (r *Registry) All() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Collector, 0, len(names))
	for _, name := range names {
		out = append(out, r.collectors[name])
	}
	return out
}

// Names lists registered collector names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Probe is the pluggable health check contract. A probe reports its result;
// errors it returns are converted by the executor into synthetic CRITICAL
// results and never propagate further.
type Probe interface {
	Execute(ctx context.Context) (*CheckResult, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (*CheckResult, error)

func (f ProbeFunc) Execute(ctx context.Context) (*CheckResult, error) { return f(ctx) }

// Registry maps probe names to implementations. Registration happens at
// wiring time; a duplicate name is a configuration fault, not a runtime
// condition.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Probe)}
}

// Register binds a probe under a unique name.
func (r *Registry) Register(name string, p Probe) error {
	if name == "" {
		return fmt.Errorf("health: probe name is required")
	}
	if p == nil {
		return fmt.Errorf("health: probe %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.probes[name]; exists {
		return fmt.Errorf("health: probe %q already registered", name)
	}
	r.probes[name] = p
	return nil
}

// MustRegister panics on registration failure. Wiring-time use only.
func (r *Registry) MustRegister(name string, p Probe) {
	if err := r.Register(name, p); err != nil {
		panic(err)
	}
}

// Lookup returns the probe for a name.
func (r *Registry) Lookup(name string) (Probe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probes[name]
	return p, ok
}

// Names lists registered probes in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.probes))
	for name := range r.probes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

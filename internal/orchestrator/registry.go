package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ComponentMeta holds static metadata for a probed dependency.
type ComponentMeta struct {
	Checker  Checker // nil marks the component as configured off
	Required bool    // a failing required component makes the service unready
}

// Registry is the set of dependencies readiness reports on.
type Registry struct {
	components map[string]ComponentMeta
	timeout    time.Duration
}

// NewRegistry creates a registry from a map of component metadata.
func NewRegistry(components map[string]ComponentMeta, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Registry{components: components, timeout: timeout}
}

// Lookup returns metadata for a component, or false if not registered.
func (r *Registry) Lookup(name string) (ComponentMeta, bool) {
	m, ok := r.components[name]
	return m, ok
}

// Names returns all registered component names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.components))
	for k := range r.components {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Check probes every component concurrently, each bounded by the registry timeout.
func (r *Registry) Check(ctx context.Context) Readiness {
	out := Readiness{Status: "ok", Components: make(map[string]ComponentCheck, len(r.components))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, meta := range r.components {
		if meta.Checker == nil {
			out.Components[name] = ComponentCheck{Status: StatusDisabled, Required: meta.Required}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			check := ComponentCheck{Status: StatusOK, Required: meta.Required}
			if err := meta.Checker.Ping(pctx); err != nil {
				check.Status, check.Message = StatusError, err.Error()
			}
			mu.Lock()
			out.Components[name] = check
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, c := range out.Components {
		if c.Required && c.Status != StatusOK {
			out.Status = "unavailable"
		}
	}
	return out
}

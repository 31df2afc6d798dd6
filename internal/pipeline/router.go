package pipeline

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Router maps engine names to collaborator implementations. Names are
// case-insensitive; an unknown or empty name resolves to the fallback engine.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	normalized := make(map[string]T, len(backends))
	for name, b := range backends {
		normalized[engineKey(name)] = b
	}
	return &Router[T]{backends: normalized, fallback: engineKey(fallback)}
}

func engineKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Route returns the backend for engine, or the fallback backend.
func (r *Router[T]) Route(engine string) (T, error) {
	key := engineKey(engine)
	if backend, ok := r.backends[key]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		if key != "" {
			slog.Debug("engine not registered, using fallback", "engine", key, "fallback", r.fallback)
		}
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("no backend for engine %q", engine)
}

// Engines returns the registered engine names in sorted order.
func (r *Router[T]) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

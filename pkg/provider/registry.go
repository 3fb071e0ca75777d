package provider

import (
	"fmt"
	"sync"
)

// Factory creates a provider instance from its configuration map.
type Factory func(name string, config map[string]string) (Provider, error)

// Registry manages backend factories and active provider instances.
// Hostname routing is by zone containment: an instance handles every
// hostname inside its Domain().
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Provider
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Provider),
	}
}

// RegisterFactory registers a backend factory under its type name.
func (r *Registry) RegisterFactory(typeName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = factory
}

// CreateInstance creates and registers a provider instance.
func (r *Registry) CreateInstance(name, typeName string, config map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[typeName]
	if !ok {
		return fmt.Errorf("unknown provider type: %s", typeName)
	}
	if _, exists := r.instances[name]; exists {
		return fmt.Errorf("duplicate provider instance: %s", name)
	}

	p, err := factory(name, config)
	if err != nil {
		return fmt.Errorf("creating provider %s: %w", name, err)
	}

	r.instances[name] = p
	r.order = append(r.order, name)
	return nil
}

// Register adds an already-built provider instance.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[p.Name()]; exists {
		return fmt.Errorf("duplicate provider instance: %s", p.Name())
	}
	r.instances[p.Name()] = p
	r.order = append(r.order, p.Name())
	return nil
}

// Get returns a provider instance by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.instances[name]
	return p, ok
}

// All returns all provider instances in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		if p, ok := r.instances[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of registered instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// MatchingProviders returns the instances whose zone contains hostname.
func (r *Registry) MatchingProviders(hostname string) []Provider {
	var matches []Provider
	for _, p := range r.All() {
		if InZone(hostname, p.Domain()) {
			matches = append(matches, p)
		}
	}
	return matches
}

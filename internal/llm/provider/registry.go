package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a provider from loosely typed configuration
// (api_key, project_id, location, region, base_url).
type Factory func(config map[string]any) (Provider, error)

// Registry manages provider factories and constructed providers
type Registry struct {
	factories map[string]Factory
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// RegisterFactory registers a factory under name
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Register registers an already constructed provider
func (r *Registry) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// Create returns the registered provider for name, building it from the
// factory on first use.
func (r *Registry) Create(name string, config map[string]any) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("provider '%s' not found", name)
	}

	p, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}

// List returns all names with a factory or a registered provider
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.factories)+len(r.providers))
	for name := range r.factories {
		seen[name] = struct{}{}
	}
	for name := range r.providers {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Global registry
var globalRegistry = NewRegistry()

// RegisterFactory registers a factory globally
func RegisterFactory(name string, factory Factory) {
	globalRegistry.RegisterFactory(name, factory)
}

// Register registers a provider globally
func Register(name string, provider Provider) {
	globalRegistry.Register(name, provider)
}

// Create builds or returns a provider from the global registry
func Create(name string, config map[string]any) (Provider, error) {
	return globalRegistry.Create(name, config)
}

// List returns all provider names from the global registry
func List() []string {
	return globalRegistry.List()
}

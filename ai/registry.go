package ai

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps provider names to providers and tracks the default.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	preferred string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. The first registered provider becomes the default.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider is nil")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[name] = p
	if r.preferred == "" {
		r.preferred = name
	}
	return nil
}

// SetDefault selects the provider returned by Default.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q is not registered", name)
	}
	r.preferred = name
	return nil
}

// Get returns a registered provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Default returns the preferred provider.
func (r *Registry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.preferred == "" {
		return nil, fmt.Errorf("no AI providers registered")
	}
	return r.providers[r.preferred], nil
}

// Names returns the names of all registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

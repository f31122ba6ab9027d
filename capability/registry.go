package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type binding struct {
	desc    Descriptor
	impl    Capability
	catalog bool
}

// Registry holds descriptors and their bound implementations.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]binding
}

// NewRegistry creates a new empty capability registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]binding)}
}

// Register adds a single capability outside of any catalog load.
// Returns an error if the id is already registered.
func (r *Registry) Register(d Descriptor, impl Capability) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if impl == nil {
		return fmt.Errorf("capability: %q has no implementation", d.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[d.ID]; ok {
		return fmt.Errorf("capability: %q is already registered", d.ID)
	}
	r.entries[d.ID] = binding{desc: d, impl: impl}
	return nil
}

// Unregister removes a capability. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// LoadCatalog binds every descriptor against factories and then replaces the
// entries of the previous catalog load in a single step. Capabilities added
// with Register are kept. On error the registry is left unchanged.
func (r *Registry) LoadCatalog(descs []Descriptor, factories FactoryMap) error {
	bound := make(map[string]binding, len(descs))
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := bound[d.ID]; dup {
			return fmt.Errorf("capability: duplicate descriptor %q", d.ID)
		}
		factory, ok := factories[d.ImplName()]
		if !ok {
			return fmt.Errorf("capability %q: no implementation named %q", d.ID, d.ImplName())
		}
		impl, err := factory(d)
		if err != nil {
			return fmt.Errorf("capability %q: %w", d.ID, err)
		}
		bound[d.ID] = binding{desc: d, impl: impl, catalog: true}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, b := range r.entries {
		if !b.catalog {
			if _, clash := bound[id]; clash {
				return fmt.Errorf("capability: %q clashes with a registered capability", id)
			}
		}
	}
	for id, b := range r.entries {
		if b.catalog {
			delete(r.entries, id)
		}
	}
	for id, b := range bound {
		r.entries[id] = b
	}
	return nil
}

// List returns all descriptors sorted by id.
func (r *Registry) List(_ context.Context) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.entries))
	for _, b := range r.entries {
		descs = append(descs, b.desc)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	return descs, nil
}

// Describe returns the descriptor for id.
func (r *Registry) Describe(_ context.Context, id string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, id)
	}
	d := b.desc
	return &d, nil
}

// Bind returns the implementation and descriptor for id.
func (r *Registry) Bind(id string) (Capability, *Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.entries[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknown, id)
	}
	d := b.desc
	return b.impl, &d, nil
}

// IDs returns a sorted list of all registered capability ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

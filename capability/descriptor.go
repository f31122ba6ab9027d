package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknown is returned when a capability id is not in the catalog.
var ErrUnknown = errors.New("capability: unknown capability")

// Field types accepted in descriptors.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeAny     = "any"
)

var validTypes = map[string]bool{
	TypeString: true, TypeNumber: true, TypeInteger: true, TypeBoolean: true,
	TypeObject: true, TypeArray: true, TypeAny: true, "": true,
}

// Field describes one input, output, or param of a capability.
type Field struct {
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Descriptor is the catalog entry for a capability.
type Descriptor struct {
	ID          string           `yaml:"id" json:"id"`
	Description string           `yaml:"description" json:"description"`
	Inputs      map[string]Field `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs     map[string]Field `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Params      map[string]Field `yaml:"params,omitempty" json:"params,omitempty"`
	// Purpose is an optional hint about where the capability usually sits in a flow.
	Purpose string `yaml:"purpose,omitempty" json:"purpose,omitempty"`
	// Impl names the implementation factory. Defaults to ID.
	Impl string `yaml:"impl,omitempty" json:"impl,omitempty"`
	// ClosedOutputs makes an empty Outputs mean "no outputs" rather than
	// "undeclared".
	ClosedOutputs bool `yaml:"closed_outputs,omitempty" json:"closed_outputs,omitempty"`
}

// Validate checks that the descriptor is well formed.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("capability: descriptor id is required")
	}
	for kind, fields := range map[string]map[string]Field{"input": d.Inputs, "output": d.Outputs, "param": d.Params} {
		for name, f := range fields {
			if !validTypes[f.Type] {
				return fmt.Errorf("capability %q: %s %q has unknown type %q", d.ID, kind, name, f.Type)
			}
		}
	}
	for name := range d.Params {
		if _, dup := d.Inputs[name]; dup {
			return fmt.Errorf("capability %q: %q is declared as both input and param", d.ID, name)
		}
	}
	return nil
}

// ImplName returns the factory name the descriptor binds to.
func (d *Descriptor) ImplName() string {
	if d.Impl != "" {
		return d.Impl
	}
	return d.ID
}

// Accepts reports whether key is a declared input or param.
func (d *Descriptor) Accepts(key string) bool {
	if _, ok := d.Inputs[key]; ok {
		return true
	}
	_, ok := d.Params[key]
	return ok
}

// HasOutput reports whether the capability declares the named output.
func (d *Descriptor) HasOutput(name string) bool {
	_, ok := d.Outputs[name]
	return ok
}

// ChecksOutputs reports whether references to the capability's outputs are
// limited to the declared names.
func (d *Descriptor) ChecksOutputs() bool {
	return d.ClosedOutputs || len(d.Outputs) > 0
}

// RequiredInputs returns the required input names in sorted order.
func (d *Descriptor) RequiredInputs() []string {
	var names []string
	for name, f := range d.Inputs {
		if f.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// OutputNames returns the declared output names in sorted order.
func (d *Descriptor) OutputNames() []string {
	names := make([]string, 0, len(d.Outputs))
	for name := range d.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog lists and describes the capabilities available to the planner.
type Catalog interface {
	List(ctx context.Context) ([]Descriptor, error)
	Describe(ctx context.Context, id string) (*Descriptor, error)
}

// StoreReader is a read-only view of an execution's shared data store.
type StoreReader interface {
	Get(path string) (any, bool)
}

// Invocation carries the resolved params for one node run.
type Invocation struct {
	NodeID string
	Params map[string]any
	Shared StoreReader
}

// String returns the named param as a string, or "" when absent.
func (inv *Invocation) String(name string) string {
	v, ok := inv.Params[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Capability is an executable unit bound to a descriptor.
type Capability interface {
	Invoke(ctx context.Context, inv *Invocation) (map[string]any, error)
}

// Func adapts a plain function to Capability.
type Func func(ctx context.Context, inv *Invocation) (map[string]any, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, inv *Invocation) (map[string]any, error) {
	return f(ctx, inv)
}

// Factory builds the implementation for a descriptor.
type Factory func(d Descriptor) (Capability, error)

// FactoryMap maps implementation names to factories.
type FactoryMap map[string]Factory

// Package ir defines the workflow intermediate representation produced by the
// planner and consumed by the executor, together with the template expression
// language used for data flow between nodes.
package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the IR version written by this module.
const CurrentVersion = "0.1.0"

// InputSpec declares a workflow-level input.
type InputSpec struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool   `json:"required" yaml:"required"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// OutputSpec declares a workflow-level output and the node output it is read from.
type OutputSpec struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Source      string `json:"source" yaml:"source"`
}

// Node is a single capability invocation.
type Node struct {
	ID      string         `json:"id" yaml:"id"`
	Type    string         `json:"type" yaml:"type"`
	Purpose string         `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Edge connects two nodes. The executor only supports a single chain, so a
// node may appear as From in at most one edge.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Workflow is the versioned IR document.
type Workflow struct {
	Version     string                `json:"ir_version" yaml:"ir_version"`
	Name        string                `json:"name,omitempty" yaml:"name,omitempty"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      map[string]InputSpec  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Nodes       []Node                `json:"nodes" yaml:"nodes"`
	Edges       []Edge                `json:"edges,omitempty" yaml:"edges,omitempty"`
	Outputs     map[string]OutputSpec `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// New returns an empty workflow at the current IR version.
func New() *Workflow {
	return &Workflow{
		Version: CurrentVersion,
		Inputs:  make(map[string]InputSpec),
		Nodes:   make([]Node, 0),
		Edges:   make([]Edge, 0),
		Outputs: make(map[string]OutputSpec),
	}
}

// Parse decodes a workflow from JSON or YAML. JSON is detected by a leading
// '{'; anything else is handed to the YAML decoder.
func Parse(data []byte) (*Workflow, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("ir: empty document")
	}

	var wf Workflow
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &wf); err != nil {
			return nil, fmt.Errorf("ir: parse json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &wf); err != nil {
			return nil, fmt.Errorf("ir: parse yaml: %w", err)
		}
		for i := range wf.Nodes {
			if wf.Nodes[i].Params != nil {
				wf.Nodes[i].Params = normalizeYAML(wf.Nodes[i].Params).(map[string]any)
			}
		}
		for name, in := range wf.Inputs {
			in.Default = normalizeYAML(in.Default)
			wf.Inputs[name] = in
		}
	}
	return &wf, nil
}

// LoadFile reads and parses a workflow document from disk.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ir: read %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal encodes the workflow as indented JSON.
func Marshal(wf *Workflow) ([]byte, error) {
	return json.MarshalIndent(wf, "", "  ")
}

// CheckVersion reports whether v is a version this module can execute. Only
// the major version has to match.
func CheckVersion(v string) error {
	if v == "" {
		return fmt.Errorf("ir_version is required")
	}
	sv := "v" + v
	if !semver.IsValid(sv) {
		return fmt.Errorf("ir_version %q is not a semantic version", v)
	}
	if semver.Major(sv) != semver.Major("v"+CurrentVersion) {
		return fmt.Errorf("ir_version %q is not supported (want %s.x)", v, semver.Major("v"+CurrentVersion)[1:])
	}
	return nil
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// NodeIndex returns the position of the node in the node list, or -1.
func (w *Workflow) NodeIndex(id string) int {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// InputNames returns the declared input names in sorted order.
func (w *Workflow) InputNames() []string {
	return sortedKeys(w.Inputs)
}

// OutputNames returns the declared output names in sorted order.
func (w *Workflow) OutputNames() []string {
	return sortedKeys(w.Outputs)
}

// NodeTypes returns the distinct capability ids used by the workflow, in
// chain order where possible.
func (w *Workflow) NodeTypes() []string {
	nodes, err := w.Order()
	if err != nil {
		nodes = w.Nodes
	}
	seen := make(map[string]bool)
	var types []string
	for _, n := range nodes {
		if !seen[n.Type] {
			seen[n.Type] = true
			types = append(types, n.Type)
		}
	}
	return types
}

// Order returns the nodes in execution order by walking the edge chain from
// the single start node. A one-node workflow needs no edges.
func (w *Workflow) Order() ([]Node, error) {
	if len(w.Nodes) == 0 {
		return nil, fmt.Errorf("workflow has no nodes")
	}
	if len(w.Nodes) == 1 && len(w.Edges) == 0 {
		return []Node{w.Nodes[0]}, nil
	}

	next := make(map[string]string, len(w.Edges))
	incoming := make(map[string]int, len(w.Nodes))
	for _, e := range w.Edges {
		if _, ok := w.Node(e.From); !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.From)
		}
		if _, ok := w.Node(e.To); !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.To)
		}
		if prev, dup := next[e.From]; dup {
			return nil, fmt.Errorf("node %q has more than one successor (%q, %q)", e.From, prev, e.To)
		}
		next[e.From] = e.To
		incoming[e.To]++
	}

	var starts []string
	for _, n := range w.Nodes {
		if incoming[n.ID] == 0 {
			starts = append(starts, n.ID)
		}
	}
	if len(starts) != 1 {
		return nil, fmt.Errorf("workflow must have exactly one start node, found %d", len(starts))
	}

	ordered := make([]Node, 0, len(w.Nodes))
	visited := make(map[string]bool, len(w.Nodes))
	for id := starts[0]; id != ""; id = next[id] {
		if visited[id] {
			return nil, fmt.Errorf("cycle detected at node %q", id)
		}
		visited[id] = true
		n, _ := w.Node(id)
		ordered = append(ordered, *n)
	}
	if len(ordered) != len(w.Nodes) {
		return nil, fmt.Errorf("chain covers %d of %d nodes", len(ordered), len(w.Nodes))
	}
	return ordered, nil
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := &Workflow{
		Version:     w.Version,
		Name:        w.Name,
		Description: w.Description,
	}
	if w.Inputs != nil {
		c.Inputs = make(map[string]InputSpec, len(w.Inputs))
		for k, v := range w.Inputs {
			v.Default = DeepCopy(v.Default)
			c.Inputs[k] = v
		}
	}
	if w.Outputs != nil {
		c.Outputs = make(map[string]OutputSpec, len(w.Outputs))
		for k, v := range w.Outputs {
			c.Outputs[k] = v
		}
	}
	if w.Nodes != nil {
		c.Nodes = make([]Node, len(w.Nodes))
		for i, n := range w.Nodes {
			n.Params, _ = DeepCopy(n.Params).(map[string]any)
			c.Nodes[i] = n
		}
	}
	if w.Edges != nil {
		c.Edges = append([]Edge(nil), w.Edges...)
	}
	return c
}

// DeepCopy copies maps and slices recursively. Other values are returned as is.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return v
	}
}

// normalizeYAML converts map[any]any produced by some YAML shapes into
// map[string]any so params look the same regardless of source encoding.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package executor

import (
	"maps"
	"strconv"
	"strings"

	"github.com/spinje/pflow-sub005/ir"
)

// Store is the shared data store for one execution. Workflow inputs live at
// the top level and each node's outputs live under its id. Only the running
// pipeline writes to it.
type Store struct {
	data map[string]any
}

// NewStore creates a store seeded with inputs.
func NewStore(inputs map[string]any) *Store {
	data := make(map[string]any, len(inputs))
	maps.Copy(data, inputs)
	return &Store{data: data}
}

// Get walks a dotted path through nested maps. Numeric segments index slices.
func (s *Store) Get(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	return lookupPath(s.data, strings.Split(path, "."))
}

// SetNode records the outputs of a node under its id.
func (s *Store) SetNode(nodeID string, outputs map[string]any) {
	out := make(map[string]any, len(outputs))
	maps.Copy(out, outputs)
	s.data[nodeID] = out
}

// Set stores a value at the top level.
func (s *Store) Set(key string, value any) {
	s.data[key] = value
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() map[string]any {
	snap, _ := ir.DeepCopy(s.data).(map[string]any)
	return snap
}

// Lookup resolves template references against the store.
func (s *Store) Lookup(ref ir.Reference) (any, bool) {
	return lookupPath(s.data, append([]string{ref.Root}, ref.Path...))
}

func lookupPath(root map[string]any, segs []string) (any, bool) {
	var cur any = root
	for _, seg := range segs {
		switch node := cur.(type) {
		case nil:
			return nil, true
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

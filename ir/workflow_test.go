package ir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const chainJSON = `{
  "ir_version": "0.1.0",
  "inputs": {"file_path": {"type": "string", "required": true}},
  "nodes": [
    {"id": "count", "type": "count-lines", "params": {"text": "${read.content}"}},
    {"id": "read", "type": "read-file", "params": {"file_path": "${file_path}"}}
  ],
  "edges": [{"from": "read", "to": "count"}],
  "outputs": {"line_count": {"source": "${count.count}"}}
}`

func TestParseJSONAndOrder(t *testing.T) {
	wf, err := Parse([]byte(chainJSON))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	nodes, err := wf.Order()
	if err != nil {
		t.Fatalf("Order failed: %v", err)
	}
	if len(nodes) != 2 || nodes[0].ID != "read" || nodes[1].ID != "count" {
		t.Fatalf("unexpected order: %+v", nodes)
	}
	if got := wf.NodeTypes(); len(got) != 2 || got[0] != "read-file" {
		t.Errorf("unexpected node types: %v", got)
	}
}

func TestParseYAML(t *testing.T) {
	src := `
ir_version: 0.1.0
nodes:
  - id: only
    type: jq
    params:
      expression: .a
      data:
        nested: {k: 1}
`
	wf, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	n, ok := wf.Node("only")
	if !ok {
		t.Fatal("node not found")
	}
	data, ok := n.Params["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected map params, got %T", n.Params["data"])
	}
	if _, ok := data["nested"].(map[string]any); !ok {
		t.Errorf("expected nested map, got %T", data["nested"])
	}
	nodes, err := wf.Order()
	if err != nil || len(nodes) != 1 {
		t.Fatalf("single node order: %v %v", nodes, err)
	}
}

func TestOrderErrors(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		edges []Edge
		want  string
	}{
		{"empty", nil, nil, "no nodes"},
		{"branch", []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}, []Edge{{"a", "b"}, {"a", "c"}}, "more than one successor"},
		{"cycle", []Node{{ID: "a"}, {ID: "b"}}, []Edge{{"a", "b"}, {"b", "a"}}, "exactly one start node"},
		{"disconnected", []Node{{ID: "a"}, {ID: "b"}}, nil, "exactly one start node"},
		{"unknown", []Node{{ID: "a"}, {ID: "b"}}, []Edge{{"a", "zz"}}, "unknown node"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &Workflow{Version: CurrentVersion, Nodes: tt.nodes, Edges: tt.edges}
			_, err := wf.Order()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCheckVersion(t *testing.T) {
	if err := CheckVersion("0.1.0"); err != nil {
		t.Errorf("expected 0.1.0 to be accepted: %v", err)
	}
	if err := CheckVersion("0.4.2"); err != nil {
		t.Errorf("expected same major to be accepted: %v", err)
	}
	for _, v := range []string{"", "abc", "1.0.0"} {
		if err := CheckVersion(v); err == nil {
			t.Errorf("expected %q to be rejected", v)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	wf, err := Parse([]byte(chainJSON))
	if err != nil {
		t.Fatal(err)
	}
	c := wf.Clone()
	c.Nodes[0].Params["text"] = "changed"
	c.Inputs["extra"] = InputSpec{Type: "string"}
	if wf.Nodes[0].Params["text"] != "${read.content}" {
		t.Error("clone shares params with original")
	}
	if _, ok := wf.Inputs["extra"]; ok {
		t.Error("clone shares inputs with original")
	}
}

func TestLoadFileAndMarshal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.json")
	if err := os.WriteFile(path, []byte(chainJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	wf, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	data, err := Marshal(wf)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"ir_version": "0.1.0"`) {
		t.Errorf("marshalled output missing version: %s", data)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

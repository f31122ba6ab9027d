package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/capability/builtin"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/planner"
	"github.com/spinje/pflow-sub005/store"
)

const countIR = `{
  "ir_version": "0.1.0",
  "inputs": {"input_file": {"type": "string", "required": true}},
  "nodes": [
    {"id": "read", "type": "read-file", "params": {"file_path": "${input_file}"}},
    {"id": "count", "type": "count-lines", "params": {"text": "${read.content}"}}
  ],
  "edges": [{"from": "read", "to": "count"}],
  "outputs": {"lines": {"source": "${count.count}"}}
}`

func newTestRegistry(t *testing.T, dir string) *capability.Registry {
	t.Helper()
	descs, err := capability.BuiltinCatalog()
	if err != nil {
		t.Fatalf("BuiltinCatalog failed: %v", err)
	}
	reg := capability.NewRegistry()
	if err := builtin.Load(reg, descs, builtin.Options{WorkDir: dir}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return reg
}

func makeCallToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", extractText(t, result))
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(extractText(t, result)), &data); err != nil {
		t.Fatalf("failed to parse result JSON: %v", err)
	}
	return data
}

func TestNewServer(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))
	if srv == nil || srv.MCPServer() == nil {
		t.Fatal("NewServer returned an incomplete server")
	}
}

func TestTitle(t *testing.T) {
	tests := map[string]string{
		"read-file":          "Read File",
		"http-request":       "Http Request",
		"workflow/count_all": "Count All",
	}
	for in, want := range tests {
		if got := Title(in); got != want {
			t.Errorf("Title(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListCapabilities(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))
	result, err := srv.handleListCapabilities(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := decodeResult(t, result)

	caps, ok := data["capabilities"].([]any)
	if !ok || len(caps) == 0 {
		t.Fatal("capabilities not found in result")
	}
	if int(data["count"].(float64)) != len(caps) {
		t.Errorf("count = %v, capabilities = %d", data["count"], len(caps))
	}
	found := false
	for _, c := range caps {
		entry := c.(map[string]any)
		if entry["id"] == "read-file" {
			found = true
			if entry["title"] != "Read File" {
				t.Errorf("title = %v", entry["title"])
			}
			if _, ok := entry["outputs"].(map[string]any)["content"]; !ok {
				t.Errorf("read-file outputs = %v", entry["outputs"])
			}
		}
	}
	if !found {
		t.Error("read-file not listed")
	}
}

func TestListWorkflowsWithoutStore(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))
	result, err := srv.handleListWorkflows(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected a tool error without a store")
	}
}

func TestListWorkflows(t *testing.T) {
	ws := store.NewMemoryStore()
	wf, err := ir.Parse([]byte(countIR))
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Save(context.Background(), "count-lines", wf, store.Metadata{Description: "Counts lines", Keywords: []string{"count"}}); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(newTestRegistry(t, t.TempDir()), WithWorkflowStore(ws))

	result, err := srv.handleListWorkflows(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := decodeResult(t, result)
	list := data["workflows"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["name"] != "count-lines" {
		t.Errorf("workflows = %v", list)
	}
}

func TestValidateWorkflow(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))

	result, err := srv.handleValidateWorkflow(context.Background(), makeCallToolRequest(map[string]any{"workflow": countIR}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := decodeResult(t, result)
	if data["valid"] != true {
		t.Fatalf("expected valid workflow, got %v", data["errors"])
	}

	bad := strings.Replace(countIR, `"read-file"`, `"read-files"`, 1)
	result, err = srv.handleValidateWorkflow(context.Background(), makeCallToolRequest(map[string]any{"workflow": bad}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data = decodeResult(t, result)
	if data["valid"] != false {
		t.Fatal("expected invalid workflow")
	}
	errs := data["errors"].([]any)
	if len(errs) == 0 {
		t.Fatal("expected violations")
	}
	var unknown map[string]any
	for _, e := range errs {
		if v := e.(map[string]any); v["code"] == "unknown_capability" {
			unknown = v
		}
	}
	if unknown == nil {
		t.Fatalf("unknown_capability not reported: %v", errs)
	}
	if s, _ := unknown["suggestion"].(string); !strings.Contains(s, "read-file") {
		t.Errorf("violation = %v", unknown)
	}
}

func TestValidateWorkflowRequiresDocument(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))
	result, err := srv.handleValidateWorkflow(context.Background(), makeCallToolRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected a tool error for a missing document")
	}
}

func TestRunInlineWorkflow(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(newTestRegistry(t, dir))

	result, err := srv.handleRunWorkflow(context.Background(), makeCallToolRequest(map[string]any{
		"workflow": countIR,
		"inputs":   map[string]any{"input_file": "a.txt"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := decodeResult(t, result)
	if data["success"] != true || data["status"] != "completed" {
		t.Fatalf("result = %v", data)
	}
	if got := data["outputs"].(map[string]any)["lines"]; got != float64(2) {
		t.Errorf("lines = %v", got)
	}
	if trace := data["trace"].([]any); len(trace) != 2 {
		t.Errorf("trace entries = %d", len(trace))
	}
}

func TestRunWorkflowReportsFailedNode(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))

	result, err := srv.handleRunWorkflow(context.Background(), makeCallToolRequest(map[string]any{
		"workflow": countIR,
		"inputs":   map[string]any{"input_file": "missing.txt"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := decodeResult(t, result)
	if data["success"] != false || data["failed_node"] != "read" {
		t.Errorf("result = %v", data)
	}
}

func TestRunWorkflowMissingInput(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))

	result, err := srv.handleRunWorkflow(context.Background(), makeCallToolRequest(map[string]any{"workflow": countIR}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := decodeResult(t, result)
	missing, _ := data["missing_inputs"].([]any)
	if data["success"] != false || len(missing) != 1 || missing[0] != "input_file" {
		t.Errorf("result = %v", data)
	}
}

func TestRunWorkflowArgumentErrors(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))
	cases := []map[string]any{
		{},
		{"name": "x", "workflow": countIR},
		{"name": "x"},
		{"workflow": "{not json"},
	}
	for _, args := range cases {
		result, err := srv.handleRunWorkflow(context.Background(), makeCallToolRequest(args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected a tool error", args)
		}
	}
}

func TestPlanWorkflowWithoutPlanner(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))
	result, err := srv.handlePlanWorkflow(context.Background(), makeCallToolRequest(map[string]any{"request": "count lines"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected a tool error without a planner")
	}
}

func TestPlanWorkflow(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())
	provider := ai.NewScriptedProvider().
		On(planner.StageSelection, `{"capability_ids": ["read-file", "count-lines"], "reasoning": "read then count"}`).
		On(planner.StageHints, `{"parameters": {}, "confidence": 0.5}`).
		On(planner.StageGeneration, countIR).
		On(planner.StageMapping, `{"extracted": {}, "ambiguous": [], "confidence": 0.9, "reasoning": "provided"}`).
		On(planner.StageMetadata, `{"suggested_name": "Count File Lines", "description": "Counts lines.", "keywords": ["count"]}`)
	cfg := planner.DefaultConfig()
	cfg.StageTimeout = 0
	ws := store.NewMemoryStore()
	p := planner.New(provider, reg, planner.WithConfig(cfg), planner.WithStore(ws))
	srv := NewServer(reg, WithPlanner(p), WithWorkflowStore(ws))

	result, err := srv.handlePlanWorkflow(context.Background(), makeCallToolRequest(map[string]any{
		"request": "count the lines of a file",
		"params":  map[string]any{"input_file": "a.txt"},
		"save":    true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := decodeResult(t, result)
	if data["ready"] != true || data["name"] != "count-file-lines" || data["saved"] != true {
		t.Fatalf("result = %v", data)
	}
	if data["inputs"].(map[string]any)["input_file"] != "a.txt" {
		t.Errorf("inputs = %v", data["inputs"])
	}
	if _, err := ws.Load(context.Background(), "count-file-lines"); err != nil {
		t.Errorf("workflow not saved: %v", err)
	}
}

func TestPlanWorkflowMissingInputs(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())
	provider := ai.NewScriptedProvider().
		On(planner.StageSelection, `{"capability_ids": ["read-file", "count-lines"], "reasoning": "read then count"}`).
		On(planner.StageHints, `{"parameters": {}, "confidence": 0.2}`).
		On(planner.StageGeneration, countIR).
		On(planner.StageMapping, `{"extracted": {}, "ambiguous": [], "confidence": 0.1, "reasoning": "no file named"}`).
		On(planner.StageMetadata, `{"suggested_name": "count-file-lines", "description": "Counts lines.", "keywords": []}`)
	cfg := planner.DefaultConfig()
	cfg.StageTimeout = 0
	srv := NewServer(reg, WithPlanner(planner.New(provider, reg, planner.WithConfig(cfg))))

	result, err := srv.handlePlanWorkflow(context.Background(), makeCallToolRequest(map[string]any{"request": "count the lines"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := decodeResult(t, result)
	missing, _ := data["missing_inputs"].([]any)
	if data["ready"] != false || len(missing) != 1 || missing[0] != "input_file" {
		t.Errorf("result = %v", data)
	}
	if data["workflow"] == nil {
		t.Error("workflow should be returned alongside missing inputs")
	}
}

func TestIRSchemaResource(t *testing.T) {
	srv := NewServer(newTestRegistry(t, t.TempDir()))
	contents, err := srv.handleIRSchema(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, "ir_version") {
		t.Errorf("schema missing ir_version:\n%s", text)
	}
}

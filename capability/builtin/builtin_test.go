package builtin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/store"
)

func newRegistry(t *testing.T, opts Options) *capability.Registry {
	t.Helper()
	descs, err := capability.BuiltinCatalog()
	if err != nil {
		t.Fatalf("BuiltinCatalog failed: %v", err)
	}
	reg := capability.NewRegistry()
	if err := Load(reg, descs, opts); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return reg
}

func invoke(t *testing.T, reg *capability.Registry, id string, params map[string]any) (map[string]any, error) {
	t.Helper()
	c, _, err := reg.Bind(id)
	if err != nil {
		t.Fatalf("Bind(%q) failed: %v", id, err)
	}
	return c.Invoke(context.Background(), &capability.Invocation{NodeID: "n", Params: params, Shared: executor.NewStore(nil)})
}

func TestEveryCatalogEntryIsBound(t *testing.T) {
	reg := newRegistry(t, Options{})
	if reg.Len() != 7 {
		t.Errorf("expected 7 builtin capabilities, got %d: %v", reg.Len(), reg.IDs())
	}
}

func TestReadWriteCountChain(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("one\ntwo\nthree\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	reg := newRegistry(t, Options{WorkDir: dir})

	wf := ir.New()
	wf.Inputs = map[string]ir.InputSpec{"file_path": {Type: "string", Required: true}}
	wf.Nodes = []ir.Node{
		{ID: "read", Type: "read-file", Params: map[string]any{"file_path": "${file_path}"}},
		{ID: "count", Type: "count-lines", Params: map[string]any{"text": "${read.content}"}},
		{ID: "save", Type: "write-file", Params: map[string]any{"file_path": "out/count.txt", "content": "lines: ${count.count}"}},
	}
	wf.Edges = []ir.Edge{{From: "read", To: "count"}, {From: "count", To: "save"}}
	wf.Outputs = map[string]ir.OutputSpec{"lines": {Source: "${count.count}"}}

	res, err := executor.Run(context.Background(), wf, reg, map[string]any{"file_path": "in.txt"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outputs["lines"] != 3 {
		t.Errorf("expected 3 lines, got %v", res.Outputs["lines"])
	}
	data, err := os.ReadFile(filepath.Join(dir, "out", "count.txt"))
	if err != nil || string(data) != "lines: 3" {
		t.Errorf("unexpected written file %q, %v", data, err)
	}
}

func TestWriteFileAppend(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry(t, Options{WorkDir: dir})
	for i := 0; i < 2; i++ {
		out, err := invoke(t, reg, "write-file", map[string]any{"file_path": "log.txt", "content": "x", "append": true})
		if err != nil {
			t.Fatalf("write-file failed: %v", err)
		}
		if out["bytes"] != 1 || out["written"] != true {
			t.Errorf("unexpected output %v", out)
		}
	}
	data, _ := os.ReadFile(filepath.Join(dir, "log.txt"))
	if string(data) != "xx" {
		t.Errorf("expected appended content, got %q", data)
	}
}

func TestReadFileEncoding(t *testing.T) {
	dir := t.TempDir()
	// "café" in ISO-8859-1.
	if err := os.WriteFile(filepath.Join(dir, "latin.txt"), []byte{'c', 'a', 'f', 0xe9}, 0o600); err != nil {
		t.Fatal(err)
	}
	reg := newRegistry(t, Options{WorkDir: dir})
	out, err := invoke(t, reg, "read-file", map[string]any{"file_path": "latin.txt", "encoding": "iso-8859-1"})
	if err != nil {
		t.Fatalf("read-file failed: %v", err)
	}
	if out["content"] != "café" {
		t.Errorf("unexpected content %q", out["content"])
	}
	if _, err := invoke(t, reg, "read-file", map[string]any{"file_path": "latin.txt", "encoding": "klingon"}); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestCountLines(t *testing.T) {
	reg := newRegistry(t, Options{})
	for text, want := range map[string]int{"": 0, "a": 1, "a\n": 1, "a\nb": 2, "a\n\nb\n": 3} {
		out, err := invoke(t, reg, "count-lines", map[string]any{"text": text})
		if err != nil {
			t.Fatal(err)
		}
		if out["count"] != want {
			t.Errorf("count(%q) = %v, want %d", text, out["count"], want)
		}
	}
}

func TestJQ(t *testing.T) {
	reg := newRegistry(t, Options{})
	out, err := invoke(t, reg, "jq", map[string]any{
		"data":       `{"items":[{"n":1},{"n":2},{"n":3}]}`,
		"expression": "[.items[] | select(.n > 1) | .n]",
	})
	if err != nil {
		t.Fatalf("jq failed: %v", err)
	}
	got, ok := out["result"].([]any)
	if !ok || len(got) != 2 {
		t.Fatalf("unexpected result %#v", out["result"])
	}

	out, err = invoke(t, reg, "jq", map[string]any{"data": map[string]any{"a": []any{1, 2}}, "expression": ".a[]"})
	if err != nil {
		t.Fatal(err)
	}
	if multi, ok := out["result"].([]any); !ok || len(multi) != 2 {
		t.Errorf("multiple results should be collected, got %#v", out["result"])
	}

	if _, err := invoke(t, reg, "jq", map[string]any{"data": "{}", "expression": ".["}); err == nil {
		t.Error("expected parse error")
	}
	if _, err := invoke(t, reg, "jq", map[string]any{"data": "{}"}); err == nil {
		t.Error("expected missing expression error")
	}
}

func TestExpr(t *testing.T) {
	reg := newRegistry(t, Options{})
	out, err := invoke(t, reg, "expr", map[string]any{
		"env":        map[string]any{"items": []any{1, 2, 3, 4}, "limit": 3},
		"expression": "len(items) > limit",
	})
	if err != nil {
		t.Fatalf("expr failed: %v", err)
	}
	if out["result"] != true {
		t.Errorf("unexpected result %v", out["result"])
	}
	if _, err := invoke(t, reg, "expr", map[string]any{"expression": "1 +"}); err == nil {
		t.Error("expected compile error")
	}
}

func TestLLM(t *testing.T) {
	provider := ai.NewScriptedProvider().On(llmStage, "a short poem")
	reg := newRegistry(t, Options{Provider: provider})
	out, err := invoke(t, reg, "llm", map[string]any{"prompt": "write a poem", "system": "be brief", "max_tokens": 50.0})
	if err != nil {
		t.Fatalf("llm failed: %v", err)
	}
	if out["response"] != "a short poem" {
		t.Errorf("unexpected response %v", out["response"])
	}
	calls := provider.Calls()
	if len(calls) != 1 || calls[0].System != "be brief" || calls[0].MaxTokens != 50 {
		t.Errorf("unexpected request %+v", calls)
	}

	noProvider := newRegistry(t, Options{})
	if _, err := invoke(t, noProvider, "llm", map[string]any{"prompt": "x"}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}

func TestHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-Token") != "abc" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	reg := newRegistry(t, Options{HTTPClient: srv.Client()})
	out, err := invoke(t, reg, "http-request", map[string]any{
		"url":     srv.URL,
		"method":  "post",
		"body":    "{}",
		"headers": map[string]any{"X-Token": "abc"},
	})
	if err != nil {
		t.Fatalf("http-request failed: %v", err)
	}
	if out["status"] != http.StatusCreated || out["body"] != `{"ok":true}` {
		t.Errorf("unexpected output %v", out)
	}
}

func TestSavedWorkflowCapability(t *testing.T) {
	ctx := context.Background()
	saved := store.NewMemoryStore()
	inner := ir.New()
	inner.Description = "Count lines of text"
	inner.Inputs = map[string]ir.InputSpec{"text": {Type: "string", Required: true}}
	inner.Nodes = []ir.Node{{ID: "count", Type: "count-lines", Params: map[string]any{"text": "${text}"}}}
	inner.Outputs = map[string]ir.OutputSpec{"lines": {Type: "integer", Source: "${count.count}"}}
	if err := saved.Save(ctx, "line-counter", inner, store.Metadata{}); err != nil {
		t.Fatal(err)
	}

	opts := Options{Workflows: saved}
	reg := newRegistry(t, opts)
	n, err := RegisterWorkflows(ctx, reg, opts)
	if err != nil || n != 1 {
		t.Fatalf("RegisterWorkflows = %d, %v", n, err)
	}
	d, err := reg.Describe(ctx, "workflow/line-counter")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if !d.Inputs["text"].Required || !d.HasOutput("lines") || !d.ClosedOutputs || d.Description != "Count lines of text" {
		t.Errorf("unexpected descriptor %+v", d)
	}

	outer := ir.New()
	outer.Inputs = map[string]ir.InputSpec{"body": {Type: "string", Required: true}}
	outer.Nodes = []ir.Node{{ID: "nested", Type: "workflow/line-counter", Params: map[string]any{"text": "${body}"}}}
	outer.Outputs = map[string]ir.OutputSpec{"total": {Source: "${nested.lines}"}}
	res, err := executor.Run(ctx, outer, reg, map[string]any{"body": "a\nb"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outputs["total"] != 2 {
		t.Errorf("unexpected outputs %v", res.Outputs)
	}

	// Registering again replaces rather than duplicating.
	if n, err := RegisterWorkflows(ctx, reg, opts); err != nil || n != 1 {
		t.Errorf("second RegisterWorkflows = %d, %v", n, err)
	}
}

func TestSavedWorkflowDepthLimit(t *testing.T) {
	ctx := context.Background()
	saved := store.NewMemoryStore()
	loop := ir.New()
	loop.Inputs = map[string]ir.InputSpec{"text": {Type: "string", Required: true}}
	loop.Nodes = []ir.Node{{ID: "again", Type: "workflow/loop", Params: map[string]any{"text": "${text}"}}}
	loop.Outputs = map[string]ir.OutputSpec{"out": {Source: "${again.out}"}}
	if err := saved.Save(ctx, "loop", loop, store.Metadata{}); err != nil {
		t.Fatal(err)
	}
	opts := Options{Workflows: saved, MaxDepth: 3}
	reg := newRegistry(t, opts)
	if _, err := RegisterWorkflows(ctx, reg, opts); err != nil {
		t.Fatal(err)
	}
	wf, err := saved.Load(ctx, "loop")
	if err != nil {
		t.Fatal(err)
	}
	_, err = executor.Run(ctx, wf, reg, map[string]any{"text": "x"})
	if !errors.Is(err, ErrMaxDepth) {
		t.Fatalf("expected ErrMaxDepth, got %v", err)
	}
}

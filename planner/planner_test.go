package planner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/capability/builtin"
	"github.com/spinje/pflow-sub005/config"
	"github.com/spinje/pflow-sub005/events"
	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/observability/metrics"
	"github.com/spinje/pflow-sub005/schema"
	"github.com/spinje/pflow-sub005/store"
)

const countRequest = `read "a.txt", count its lines and write the count to "b.txt"`

const countChainIR = `{
  "ir_version": "0.1.0",
  "inputs": {
    "input_file": {"type": "string", "required": true, "description": "File to read"},
    "output_file": {"type": "string", "required": true, "description": "File to write"}
  },
  "nodes": [
    {"id": "read", "type": "read-file", "params": {"file_path": "${input_file}"}},
    {"id": "count", "type": "count-lines", "params": {"text": "${read.content}"}},
    {"id": "write", "type": "write-file", "params": {"file_path": "${output_file}", "content": "${count.count}"}}
  ],
  "edges": [{"from": "read", "to": "count"}, {"from": "count", "to": "write"}],
  "outputs": {"line_count": {"source": "${count.count}"}}
}`

func newRegistry(t *testing.T, opts builtin.Options) *capability.Registry {
	t.Helper()
	descs, err := capability.BuiltinCatalog()
	if err != nil {
		t.Fatalf("BuiltinCatalog failed: %v", err)
	}
	reg := capability.NewRegistry()
	if err := builtin.Load(reg, descs, opts); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return reg
}

func fastConfig() config.PlannerConfig {
	cfg := DefaultConfig()
	cfg.StageTimeout = 0
	return cfg
}

func TestPlanGeneratesCountChain(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry(t, builtin.Options{WorkDir: dir})

	provider := ai.NewScriptedProvider().
		On(StageSelection, `{"capability_ids": ["read-file", "count-lines", "write-file", "teleport"], "reasoning": "read, count, write"}`).
		On(StageHints, `{"parameters": {
			"input_file": {"value": "a.txt"},
			"output_file": {"value": "the file \"b.txt\""},
			"summarize": {"value": "lines"},
			"blank": {"value": ""}
		}, "confidence": 0.9}`).
		On(StageGeneration, "Here is the workflow:\n```json\n"+countChainIR+"\n```").
		On(StageMapping, `{"extracted": {"input_file": "a.txt", "output_file": "b.txt"}, "ambiguous": [], "confidence": 0.95, "reasoning": "both named"}`).
		On(StageMetadata, `{"suggested_name": "Count Lines To File", "description": "Counts the lines of a file and writes the count.", "keywords": ["Lines", "lines", " count "]}`)

	pub := events.NewMemory()
	collector := metrics.NewCollector()
	p := New(provider, reg, WithConfig(fastConfig()), WithPublisher(pub), WithMetrics(collector))

	res, err := p.Plan(context.Background(), PlanRequest{Request: countRequest})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if res.Reused {
		t.Error("expected a generated workflow")
	}
	if provider.CallCount(StageDiscovery) != 0 {
		t.Error("discovery should be skipped without saved workflows")
	}
	if got := strings.Join(res.Selection.CapabilityIDs, ","); got != "read-file,count-lines,write-file" {
		t.Errorf("selection = %s", got)
	}
	if len(res.Workflow.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(res.Workflow.Nodes))
	}
	if res.Name != "count-lines-to-file" || res.Workflow.Name != res.Name {
		t.Errorf("name = %q, workflow name = %q", res.Name, res.Workflow.Name)
	}
	if res.Inputs["input_file"] != "a.txt" || res.Inputs["output_file"] != "b.txt" {
		t.Errorf("inputs = %v", res.Inputs)
	}
	if got := strings.Join(res.Metadata.Keywords, ","); got != "lines,count" {
		t.Errorf("keywords = %s", got)
	}
	if got := strings.Join(res.Metadata.Capabilities, ","); got != "read-file,count-lines,write-file" {
		t.Errorf("capabilities = %s", got)
	}
	if res.History.Generations() != 1 {
		t.Errorf("generations = %d", res.History.Generations())
	}

	gen := provider.Calls()
	var genPrompt string
	for _, c := range gen {
		if c.Stage == StageGeneration {
			genPrompt = c.Messages[0].Content
		}
	}
	if !strings.Contains(genPrompt, "output_file = b.txt") {
		t.Errorf("generation prompt missing normalized hint:\n%s", genPrompt)
	}
	if strings.Contains(genPrompt, "summarize =") || strings.Contains(genPrompt, "teleport") {
		t.Errorf("generation prompt leaked dropped values:\n%s", genPrompt)
	}

	types := pub.Types()
	if len(types) != 10 || types[0] != events.StageStarted || types[1] != events.StageCompleted {
		t.Errorf("events = %v", types)
	}
	if got := testutil.ToFloat64(collector.StageCalls.WithLabelValues(StageGeneration, "success")); got != 1 {
		t.Errorf("generation success count = %v", got)
	}
	if got := testutil.ToFloat64(collector.Regenerations.WithLabelValues("valid")); got != 1 {
		t.Errorf("valid regenerations = %v", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run, err := executor.Run(context.Background(), res.Workflow, reg, res.Inputs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Outputs["line_count"] != 3 {
		t.Errorf("line_count = %v", run.Outputs["line_count"])
	}
	data, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "3" {
		t.Errorf("b.txt = %q", data)
	}
}

func TestPlanNoCapabilities(t *testing.T) {
	reg := newRegistry(t, builtin.Options{})
	provider := ai.NewScriptedProvider().
		On(StageSelection, `{"capability_ids": ["teleport"], "workflow_names": ["nowhere"], "reasoning": "nothing fits"}`)
	p := New(provider, reg, WithConfig(fastConfig()))

	_, err := p.Plan(context.Background(), PlanRequest{Request: "teleport me to the moon"})
	if !errors.Is(err, ErrNoCapabilities) {
		t.Fatalf("expected ErrNoCapabilities, got %v", err)
	}
	if provider.CallCount(StageGeneration) != 0 || provider.CallCount(StageHints) != 0 {
		t.Error("no generation should be attempted")
	}
}

func TestPlanMissingRequiredInput(t *testing.T) {
	reg := newRegistry(t, builtin.Options{})
	issuesIR := `{
	  "ir_version": "0.1.0",
	  "inputs": {
	    "repo_owner": {"type": "string", "required": true},
	    "repo_name": {"type": "string", "required": true}
	  },
	  "nodes": [
	    {"id": "fetch", "type": "http-request", "params": {"url": "https://api.github.com/repos/${repo_owner}/${repo_name}/issues"}},
	    {"id": "summary", "type": "llm", "params": {"prompt": "Summarize these issues: ${fetch.body}"}}
	  ],
	  "edges": [{"from": "fetch", "to": "summary"}],
	  "outputs": {"summary": {"source": "${summary.response}"}}
	}`
	provider := ai.NewScriptedProvider().
		On(StageSelection, `{"capability_ids": ["http-request", "llm"], "reasoning": "fetch then summarize"}`).
		On(StageHints, `{"parameters": {"repo_owner": {"value": "spinje or anthropic"}, "repo_name": {"value": "pflow"}}, "confidence": 0.5}`).
		On(StageGeneration, issuesIR).
		On(StageMapping, `{"extracted": {"repo_name": "pflow"}, "ambiguous": ["repo_owner"], "confidence": 0.4, "reasoning": "owner unclear"}`).
		On(StageMetadata, `{"suggested_name": "summarize-issues", "description": "Summarizes open issues.", "keywords": ["github"]}`)
	p := New(provider, reg, WithConfig(fastConfig()))

	res, err := p.Plan(context.Background(), PlanRequest{Request: "summarize the open issues of the pflow repo"})
	if !errors.Is(err, ErrMissingRequiredInput) || !errors.Is(err, ErrAmbiguousExtraction) {
		t.Fatalf("expected missing and ambiguous input error, got %v", err)
	}
	var missing *MissingInputsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingInputsError, got %T", err)
	}
	if strings.Join(missing.Missing, ",") != "repo_owner" || strings.Join(missing.HintedButMissing, ",") != "repo_owner" {
		t.Errorf("missing = %+v", missing)
	}
	if res == nil || res.Workflow == nil {
		t.Fatal("expected the partial result to carry the workflow")
	}
	if res.Inputs["repo_name"] != "pflow" {
		t.Errorf("inputs = %v", res.Inputs)
	}
	if _, ok := res.Inputs["repo_owner"]; ok {
		t.Error("repo_owner must not be defaulted")
	}
}

func TestPlanReusesSavedWorkflow(t *testing.T) {
	reg := newRegistry(t, builtin.Options{})
	saved, err := ir.Parse([]byte(countChainIR))
	if err != nil {
		t.Fatal(err)
	}
	ws := store.NewMemoryStore()
	if err := ws.Save(context.Background(), "count-lines-to-file", saved, store.Metadata{Description: "Counts lines"}); err != nil {
		t.Fatal(err)
	}

	provider := ai.NewScriptedProvider().
		On(StageDiscovery, `{"found": true, "workflow_name": "count-lines-to-file", "confidence": 0.93, "reasoning": "same task"}`).
		On(StageMapping, `{"extracted": {"input_file": "notes.txt", "output_file": "n.txt"}, "confidence": 0.9}`)
	p := New(provider, reg, WithConfig(fastConfig()), WithStore(ws))

	res, err := p.Plan(context.Background(), PlanRequest{Request: "count the lines in notes.txt into n.txt"})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !res.Reused || res.Name != "count-lines-to-file" {
		t.Fatalf("expected reuse, got %+v", res)
	}
	if res.Inputs["input_file"] != "notes.txt" {
		t.Errorf("inputs = %v", res.Inputs)
	}
	if res.Metadata == nil || res.Metadata.Description != "Counts lines" {
		t.Errorf("metadata = %+v", res.Metadata)
	}
	if provider.CallCount(StageSelection) != 0 || provider.CallCount(StageGeneration) != 0 {
		t.Error("reuse must not generate")
	}
}

func TestPlanSavesWorkflow(t *testing.T) {
	reg := newRegistry(t, builtin.Options{})
	ws := store.NewMemoryStore()
	provider := ai.NewScriptedProvider().
		On(StageSelection, `{"capability_ids": ["read-file", "count-lines", "write-file"], "reasoning": "chain"}`).
		On(StageHints, `{"parameters": {}, "confidence": 0.2}`).
		On(StageGeneration, countChainIR).
		On(StageMapping, `{"extracted": {}, "confidence": 0.1}`).
		On(StageMetadata, `{"suggested_name": "whatever", "description": "Counts lines.", "keywords": []}`)
	p := New(provider, reg, WithConfig(fastConfig()), WithStore(ws))

	res, err := p.Plan(context.Background(), PlanRequest{
		Request:  "count lines from one file into another",
		Provided: map[string]any{"input_file": "a.txt", "output_file": "b.txt"},
		Save:     true,
		Name:     "line-counter",
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !res.Saved || res.Name != "line-counter" {
		t.Fatalf("result = %+v", res)
	}
	if provider.CallCount(StageMapping) != 0 {
		t.Error("mapping should not be asked when every input is provided")
	}
	md, err := ws.Metadata(context.Background(), "line-counter")
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if md.Description != "Counts lines." {
		t.Errorf("description = %q", md.Description)
	}
}

func TestDiscoverThreshold(t *testing.T) {
	saved := []store.Summary{{Name: "count-lines-to-file", Description: "Counts lines"}}
	tests := []struct {
		name     string
		response string
		found    bool
	}{
		{"confident match", `{"found": true, "workflow_name": "count-lines-to-file", "confidence": 0.85, "reasoning": "r"}`, true},
		{"low confidence", `{"found": true, "workflow_name": "count-lines-to-file", "confidence": 0.6, "reasoning": "r"}`, false},
		{"unlisted name", `{"found": true, "workflow_name": "invented", "confidence": 0.99, "reasoning": "r"}`, false},
		{"no match", `{"found": false, "workflow_name": "", "confidence": 0.1, "reasoning": "r"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := ai.NewScriptedProvider().On(StageDiscovery, tt.response)
			p := New(provider, capability.NewRegistry(), WithConfig(fastConfig()))
			res, err := p.Discover(context.Background(), "count lines", saved)
			if err != nil {
				t.Fatalf("Discover failed: %v", err)
			}
			if res.Found != tt.found {
				t.Errorf("found = %v, want %v", res.Found, tt.found)
			}
			if !res.Found && res.WorkflowName != "" {
				t.Errorf("rejected match kept name %q", res.WorkflowName)
			}
		})
	}
}

func TestStageRetriesMalformedResponse(t *testing.T) {
	saved := []store.Summary{{Name: "x"}}
	provider := ai.NewScriptedProvider().
		On(StageDiscovery, "I think it matches!", `{"found": false, "confidence": 0.2, "reasoning": "no"}`)
	p := New(provider, capability.NewRegistry(), WithConfig(fastConfig()))

	if _, err := p.Discover(context.Background(), "anything", saved); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	calls := provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[1].Temperature != retryTemperature || len(calls[0].Schema) == 0 {
		t.Errorf("retry request = %+v", calls[1])
	}
}

func TestStageErrorAfterRetries(t *testing.T) {
	provider := ai.NewScriptedProvider().On(StageDiscovery, `{"found": "yes"}`)
	p := New(provider, capability.NewRegistry(), WithConfig(fastConfig()))

	_, err := p.Discover(context.Background(), "anything", []store.Summary{{Name: "x"}})
	if !errors.Is(err, ai.ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageDiscovery {
		t.Fatalf("expected StageError for discovery, got %v", err)
	}
	if provider.CallCount(StageDiscovery) != 2 {
		t.Errorf("calls = %d", provider.CallCount(StageDiscovery))
	}
}

func TestStageDoesNotCacheMalformedResponse(t *testing.T) {
	upstream := ai.NewScriptedProvider().
		On(StageDiscovery, "garbage", "more garbage", `{"found": false, "confidence": 0.2, "reasoning": "no"}`)
	cached := ai.NewCachingProvider(upstream, ai.NewMemoryCache(), 0, nil)
	p := New(cached, capability.NewRegistry(), WithConfig(fastConfig()))
	saved := []store.Summary{{Name: "x"}}

	if _, err := p.Discover(context.Background(), "anything", saved); !errors.Is(err, ai.ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
	if _, err := p.Discover(context.Background(), "anything", saved); err != nil {
		t.Fatalf("second Discover should reach upstream, got %v", err)
	}
	if n := upstream.CallCount(StageDiscovery); n != 3 {
		t.Errorf("upstream calls = %d, want 3", n)
	}

	if _, err := p.Discover(context.Background(), "anything", saved); err != nil {
		t.Fatalf("third Discover failed: %v", err)
	}
	if n := upstream.CallCount(StageDiscovery); n != 3 {
		t.Errorf("accepted response should be served from cache, upstream calls = %d", n)
	}
}

type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }

func (blockingProvider) Complete(ctx context.Context, _ ai.CompletionRequest) (*ai.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStageTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StageTimeout = 20 * time.Millisecond
	p := New(blockingProvider{}, capability.NewRegistry(), WithConfig(cfg))

	_, err := p.Select(context.Background(), "anything", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSelectDropsUnknownIDs(t *testing.T) {
	catalog := []capability.Descriptor{{ID: "read-file"}, {ID: "llm"}}
	saved := []store.Summary{{Name: "digest"}}
	provider := ai.NewScriptedProvider().
		On(StageSelection, `{"capability_ids": ["llm", "made-up", "llm"], "workflow_names": ["digest", "ghost"], "reasoning": "r"}`)
	p := New(provider, capability.NewRegistry(), WithConfig(fastConfig()))

	sel, err := p.Select(context.Background(), "digest my notes", catalog, saved)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if strings.Join(sel.CapabilityIDs, ",") != "llm" || strings.Join(sel.WorkflowNames, ",") != "digest" {
		t.Errorf("selection = %+v", sel)
	}
	prompt := provider.Calls()[0].Messages[0].Content
	if !strings.Contains(prompt, "- read-file") || !strings.Contains(prompt, "- digest") {
		t.Errorf("prompt missing listing:\n%s", prompt)
	}
}

func TestGenerateRequiresSelection(t *testing.T) {
	provider := ai.NewScriptedProvider()
	p := New(provider, capability.NewRegistry())
	_, err := p.Generate(context.Background(), GenerationInput{Request: "x", Selection: &Selection{}})
	if !errors.Is(err, ErrNoCapabilities) {
		t.Fatalf("expected ErrNoCapabilities, got %v", err)
	}
	if len(provider.Calls()) != 0 {
		t.Error("provider must not be called")
	}
}

func TestMissingInputsErrorMatching(t *testing.T) {
	plain := &MissingInputsError{Missing: []string{"a"}}
	if !errors.Is(plain, ErrMissingRequiredInput) || errors.Is(plain, ErrAmbiguousExtraction) {
		t.Error("plain missing input should only match ErrMissingRequiredInput")
	}
	amb := &MissingInputsError{Missing: []string{"a"}, Ambiguous: []string{"a"}}
	if !errors.Is(amb, ErrAmbiguousExtraction) {
		t.Error("ambiguous miss should match ErrAmbiguousExtraction")
	}
	if !strings.Contains(amb.Error(), "ambiguous: a") {
		t.Errorf("message = %q", amb.Error())
	}
}

func TestRetryExhaustedErrorMatching(t *testing.T) {
	err := error(&RetryExhaustedError{
		Attempts: 4,
		Last:     schema.ValidationErrors{{Code: schema.CodeUnknownCapability, Message: "nope"}},
	})
	if !errors.Is(err, ErrRetryExhausted) || !errors.Is(err, schema.ErrSchemaViolation) {
		t.Fatalf("unexpected matching for %v", err)
	}
}

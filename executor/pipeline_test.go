package executor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/events"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/observability/metrics"
	"github.com/spinje/pflow-sub005/schema"
)

type testEnv struct {
	reg       *capability.Registry
	upperRuns atomic.Int32
	countRuns atomic.Int32
	onUpper   func(ctx context.Context)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{reg: capability.NewRegistry()}
	text := map[string]capability.Field{"text": {Type: capability.TypeString, Required: true}}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	must(env.reg.Register(capability.Descriptor{
		ID:      "upper",
		Inputs:  text,
		Outputs: map[string]capability.Field{"result": {Type: capability.TypeString}},
	}, capability.Func(func(ctx context.Context, inv *capability.Invocation) (map[string]any, error) {
		env.upperRuns.Add(1)
		if env.onUpper != nil {
			env.onUpper(ctx)
		}
		return map[string]any{"result": strings.ToUpper(inv.String("text")), "extra": "hidden"}, nil
	})))
	must(env.reg.Register(capability.Descriptor{
		ID:     "count",
		Inputs: text,
		Outputs: map[string]capability.Field{
			"count":  {Type: capability.TypeInteger},
			"leaked": {Type: capability.TypeBoolean},
		},
	}, capability.Func(func(_ context.Context, inv *capability.Invocation) (map[string]any, error) {
		env.countRuns.Add(1)
		_, leaked := inv.Shared.Get("up.extra")
		return map[string]any{"count": len(strings.Split(inv.String("text"), "\n")), "leaked": leaked}, nil
	})))
	must(env.reg.Register(capability.Descriptor{
		ID:      "fail",
		Inputs:  text,
		Outputs: map[string]capability.Field{"never": {Type: capability.TypeString}},
	}, capability.Func(func(context.Context, *capability.Invocation) (map[string]any, error) {
		return nil, errors.New("boom")
	})))
	must(env.reg.Register(capability.Descriptor{
		ID:      "slow",
		Inputs:  text,
		Outputs: map[string]capability.Field{"done": {Type: capability.TypeBoolean}},
	}, capability.Func(func(ctx context.Context, _ *capability.Invocation) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))
	return env
}

func chain(second string) *ir.Workflow {
	wf := ir.New()
	wf.Name = "shout"
	wf.Inputs = map[string]ir.InputSpec{
		"text":   {Type: "string", Required: true},
		"suffix": {Type: "string", Default: "!"},
	}
	wf.Nodes = []ir.Node{
		{ID: "up", Type: "upper", Params: map[string]any{"text": "${text}${suffix}"}},
		{ID: "second", Type: second, Params: map[string]any{"text": "${up.result}"}},
	}
	wf.Edges = []ir.Edge{{From: "up", To: "second"}}
	switch second {
	case "count":
		wf.Outputs = map[string]ir.OutputSpec{
			"shouted": {Source: "${up.result}"},
			"lines":   {Source: "${second.count}"},
			"leaked":  {Source: "${second.leaked}"},
		}
	case "fail":
		wf.Outputs = map[string]ir.OutputSpec{"never": {Source: "${second.never}"}}
	case "slow":
		wf.Outputs = map[string]ir.OutputSpec{"done": {Source: "${second.done}"}}
	}
	return wf
}

func TestExecuteSuccess(t *testing.T) {
	env := newTestEnv(t)
	mem := events.NewMemory()
	coll := metrics.NewCollector()
	p, err := Compile(chain("count"), env.reg, WithPublisher(mem), WithMetrics(coll),
		WithIDGenerator(func() string { return "exec-1" }))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if got := p.NodeIDs(); len(got) != 2 || got[0] != "up" {
		t.Fatalf("unexpected order %v", got)
	}

	res, err := p.Execute(context.Background(), map[string]any{"text": "hi", "ignored": 1})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.ExecutionID != "exec-1" || res.Status != StatusCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Outputs["shouted"] != "HI!" || res.Outputs["lines"] != 1 || res.Outputs["leaked"] != false {
		t.Errorf("unexpected outputs %v", res.Outputs)
	}
	if _, ok := res.Inputs["ignored"]; ok {
		t.Error("undeclared input should not be seeded")
	}
	if len(res.Trace) != 2 || res.Trace[0].Output["extra"] != "hidden" {
		t.Errorf("trace should keep the full output delta: %+v", res.Trace)
	}
	if res.Trace[1].ResolvedParams["text"] != "HI!" {
		t.Errorf("unexpected resolved params %v", res.Trace[1].ResolvedParams)
	}

	var states []string
	for _, tr := range res.Transitions {
		states = append(states, string(tr.State)+":"+tr.Node)
	}
	want := "seeded:,running:up,running:second,completed:"
	if strings.Join(states, ",") != want {
		t.Errorf("transitions = %s, want %s", strings.Join(states, ","), want)
	}

	wantEvents := []string{
		events.ExecutionStarted, events.NodeStarted, events.NodeCompleted,
		events.NodeStarted, events.NodeCompleted, events.ExecutionCompleted,
	}
	if got := mem.Types(); strings.Join(got, ",") != strings.Join(wantEvents, ",") {
		t.Errorf("events = %v", got)
	}
	if v := testutil.ToFloat64(coll.WorkflowExecutions.WithLabelValues("completed")); v != 1 {
		t.Errorf("expected 1 completed execution, got %v", v)
	}
	if v := testutil.ToFloat64(coll.NodeExecutions.WithLabelValues("upper", "success")); v != 1 {
		t.Errorf("expected 1 upper success, got %v", v)
	}
}

func TestExecuteDeterministic(t *testing.T) {
	env := newTestEnv(t)
	p, err := Compile(chain("count"), env.reg)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	a, err := p.Execute(context.Background(), map[string]any{"text": "x"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Execute(context.Background(), map[string]any{"text": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ExecutionID == b.ExecutionID {
		t.Error("each execution should get a fresh id")
	}
	if ir.Stringify(a.Outputs) != ir.Stringify(b.Outputs) {
		t.Errorf("outputs differ: %v vs %v", a.Outputs, b.Outputs)
	}
}

func TestExecuteMissingInput(t *testing.T) {
	env := newTestEnv(t)
	p, err := Compile(chain("count"), env.reg)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	_, err = p.Execute(context.Background(), map[string]any{})
	var missing *MissingInputError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingInputError, got %v", err)
	}
	if len(missing.Missing) != 1 || missing.Missing[0] != "text" {
		t.Errorf("unexpected missing list %v", missing.Missing)
	}
	if env.upperRuns.Load() != 0 {
		t.Error("no node should run when a required input is missing")
	}
}

func TestExecuteOmittedOptionalInput(t *testing.T) {
	env := newTestEnv(t)
	wf := ir.New()
	wf.Inputs = map[string]ir.InputSpec{"greeting": {Type: "string"}}
	wf.Nodes = []ir.Node{{ID: "up", Type: "upper", Params: map[string]any{"text": "hi ${greeting}"}}}
	wf.Outputs = map[string]ir.OutputSpec{"shouted": {Source: "${up.result}"}}
	descs, _ := env.reg.List(context.Background())
	if errs := schema.Validate(wf, schema.WithCatalog(descs)); len(errs) > 0 {
		t.Fatalf("workflow should validate: %v", errs)
	}

	p, err := Compile(wf, env.reg)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	res, err := p.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Outputs["shouted"] != "HI " {
		t.Errorf("shouted = %q, want %q", res.Outputs["shouted"], "HI ")
	}
	if v, ok := res.Inputs["greeting"]; !ok || v != nil {
		t.Errorf("greeting should be seeded as nil, got %v, %v", v, ok)
	}
}

func TestExecuteInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	wf := chain("count")
	wf.Inputs["text"] = ir.InputSpec{Type: "boolean", Required: true}
	p, err := Compile(wf, env.reg)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	_, err = p.Execute(context.Background(), map[string]any{"text": "perhaps"})
	var invalid *InvalidInputError
	if !errors.As(err, &invalid) || invalid.Name != "text" {
		t.Fatalf("expected InvalidInputError for text, got %v", err)
	}
}

func TestExecuteNodeFailure(t *testing.T) {
	env := newTestEnv(t)
	mem := events.NewMemory()
	coll := metrics.NewCollector()
	p, err := Compile(chain("fail"), env.reg, WithPublisher(mem), WithMetrics(coll))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	res, err := p.Execute(context.Background(), map[string]any{"text": "hi"})
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) {
		t.Fatalf("expected NodeError, got %v", err)
	}
	if nodeErr.NodeID != "second" || nodeErr.Capability != "fail" || nodeErr.Params["text"] != "HI!" {
		t.Errorf("unexpected node error %+v", nodeErr)
	}
	if len(nodeErr.Trace) != 2 || nodeErr.Trace[0].Status != StatusCompleted || nodeErr.Trace[1].Status != StatusFailed {
		t.Errorf("unexpected trace %+v", nodeErr.Trace)
	}
	if res.Status != StatusFailed || res.FailedNode() != "second" {
		t.Errorf("unexpected result %+v", res)
	}
	last := res.Transitions[len(res.Transitions)-1]
	if last.State != StatusFailed || last.Node != "second" {
		t.Errorf("unexpected final transition %+v", last)
	}
	if env.upperRuns.Load() != 1 {
		t.Errorf("completed node ran %d times", env.upperRuns.Load())
	}
	types := mem.Types()
	if types[len(types)-2] != events.NodeFailed || types[len(types)-1] != events.ExecutionFailed {
		t.Errorf("unexpected events %v", types)
	}
	if v := testutil.ToFloat64(coll.WorkflowExecutions.WithLabelValues("failed")); v != 1 {
		t.Errorf("expected 1 failed execution, got %v", v)
	}
}

func TestExecuteCancelledBetweenNodes(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.onUpper = func(context.Context) { cancel() }

	p, err := Compile(chain("count"), env.reg)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	res, err := p.Execute(ctx, map[string]any{"text": "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != "second" {
		t.Fatalf("expected the next node to be reported, got %v", err)
	}
	if env.countRuns.Load() != 0 {
		t.Error("the next node should not be invoked")
	}
	if res.FailedNode() != "second" {
		t.Errorf("unexpected failed node %q", res.FailedNode())
	}
}

func TestExecuteNodeTimeout(t *testing.T) {
	env := newTestEnv(t)
	p, err := Compile(chain("slow"), env.reg, WithNodeTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	_, err = p.Execute(context.Background(), map[string]any{"text": "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCompileRejectsInvalidWorkflow(t *testing.T) {
	env := newTestEnv(t)
	wf := chain("count")
	wf.Nodes[1].Type = "missing-capability"
	_, err := Compile(wf, env.reg)
	if !errors.Is(err, schema.ErrSchemaViolation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
	var errs schema.ValidationErrors
	if !errors.As(err, &errs) || !errs.Has(schema.CodeUnknownCapability) {
		t.Errorf("expected unknown_capability finding, got %v", err)
	}
}

type recordingTraces struct {
	results []*Result
}

func (r *recordingTraces) RecordExecution(_ context.Context, res *Result) error {
	r.results = append(r.results, res)
	return nil
}

func TestExecuteRecordsTrace(t *testing.T) {
	env := newTestEnv(t)
	traces := &recordingTraces{}
	res, err := Run(context.Background(), chain("count"), env.reg, map[string]any{"text": "a"}, WithTraceStore(traces))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(traces.results) != 1 || traces.results[0].ExecutionID != res.ExecutionID {
		t.Errorf("expected execution to be recorded, got %+v", traces.results)
	}
}

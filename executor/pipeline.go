// Package executor runs validated workflows as a linear pipeline of
// capability invocations over a per-execution shared store.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/events"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/observability/metrics"
	"github.com/spinje/pflow-sub005/observability/tracing"
	"github.com/spinje/pflow-sub005/schema"
)

// Binder resolves node types to bound capabilities. *capability.Registry
// satisfies it.
type Binder interface {
	Bind(id string) (capability.Capability, *capability.Descriptor, error)
	List(ctx context.Context) ([]capability.Descriptor, error)
}

// TraceRecorder persists finished executions.
type TraceRecorder interface {
	RecordExecution(ctx context.Context, res *Result) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracer sets the span factory.
func WithTracer(t *tracing.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithNodeTimeout bounds each node invocation. Zero disables the bound.
func WithNodeTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.nodeTimeout = d }
}

// WithTraceStore persists each finished execution.
func WithTraceStore(ts TraceRecorder) Option {
	return func(p *Pipeline) { p.traces = ts }
}

// WithIDGenerator overrides execution id generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

type step struct {
	node ir.Node
	cap  capability.Capability
	desc *capability.Descriptor
}

// Pipeline is a compiled workflow ready to execute. A Pipeline holds no
// per-execution state and may be executed repeatedly.
type Pipeline struct {
	wf          *ir.Workflow
	steps       []step
	logger      *slog.Logger
	tracer      *tracing.Tracer
	metrics     *metrics.Collector
	publisher   events.Publisher
	emitter     *events.Emitter
	traces      TraceRecorder
	nodeTimeout time.Duration
	newID       func() string
	now         func() time.Time
}

// Compile validates wf against the binder's catalog, orders its nodes, and
// binds each node to its capability.
func Compile(wf *ir.Workflow, binder Binder, opts ...Option) (*Pipeline, error) {
	if wf == nil {
		return nil, fmt.Errorf("compile: nil workflow")
	}
	descs, err := binder.List(context.Background())
	if err != nil {
		return nil, fmt.Errorf("compile: list capabilities: %w", err)
	}
	if errs := schema.Validate(wf, schema.WithCatalog(descs)); len(errs) > 0 {
		return nil, fmt.Errorf("compile %s: %w", displayName(wf), errs)
	}
	nodes, err := wf.Order()
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", displayName(wf), err)
	}

	p := &Pipeline{
		wf:     wf.Clone(),
		logger: slog.Default(),
		tracer: tracing.NewTracer(nil),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.emitter = events.NewEmitter(p.publisher, p.logger)

	for _, n := range nodes {
		c, d, err := binder.Bind(n.Type)
		if err != nil {
			return nil, fmt.Errorf("compile %s: node %q: %w", displayName(wf), n.ID, err)
		}
		p.steps = append(p.steps, step{node: n, cap: c, desc: d})
	}
	return p, nil
}

// Run compiles and executes wf in one call.
func Run(ctx context.Context, wf *ir.Workflow, binder Binder, inputs map[string]any, opts ...Option) (*Result, error) {
	p, err := Compile(wf, binder, opts...)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, inputs)
}

// Workflow returns the compiled workflow.
func (p *Pipeline) Workflow() *ir.Workflow { return p.wf }

// NodeIDs returns the node ids in execution order.
func (p *Pipeline) NodeIDs() []string {
	ids := make([]string, len(p.steps))
	for i, s := range p.steps {
		ids[i] = s.node.ID
	}
	return ids
}

// Execute runs the pipeline with the given inputs.
func (p *Pipeline) Execute(ctx context.Context, inputs map[string]any) (*Result, error) {
	seeded, err := p.prepareInputs(inputs)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ExecutionID: p.newID(),
		Workflow:    p.wf.Name,
		Inputs:      seeded,
		StartedAt:   p.now().UTC(),
	}
	store := NewStore(seeded)
	p.transition(res, StatusSeeded, "")

	ctx, span := p.tracer.StartExecution(ctx, res.ExecutionID, p.wf.Name, len(p.steps))
	p.logger.Info("Execution started", "execution_id", res.ExecutionID, "workflow", p.wf.Name, "nodes", len(p.steps))
	p.emitter.Emit(ctx, events.Event{Type: events.ExecutionStarted, ExecutionID: res.ExecutionID,
		Data: map[string]any{"workflow": p.wf.Name, "nodes": len(p.steps)}})

	runErr := p.run(ctx, res, store)
	if runErr == nil {
		res.Outputs, runErr = p.assembleOutputs(store)
	}
	res.Duration = p.now().Sub(res.StartedAt)

	if runErr != nil {
		res.Status = StatusFailed
		res.Error = runErr.Error()
		if res.Transitions[len(res.Transitions)-1].State != StatusFailed {
			p.transition(res, StatusFailed, "")
		}
		p.logger.Error("Execution failed", "execution_id", res.ExecutionID, "error", runErr, "elapsed", res.Duration)
		p.emitter.Emit(ctx, events.Event{Type: events.ExecutionFailed, ExecutionID: res.ExecutionID,
			Node: res.FailedNode(), Data: map[string]any{"error": runErr.Error()}})
	} else {
		res.Status = StatusCompleted
		p.transition(res, StatusCompleted, "")
		p.logger.Info("Execution completed", "execution_id", res.ExecutionID, "elapsed", res.Duration)
		p.emitter.Emit(ctx, events.Event{Type: events.ExecutionCompleted, ExecutionID: res.ExecutionID,
			Data: map[string]any{"outputs": len(res.Outputs)}})
	}
	p.metrics.RecordExecution(string(res.Status))
	p.tracer.Finish(span, runErr)

	if p.traces != nil {
		if err := p.traces.RecordExecution(ctx, res); err != nil {
			p.logger.Warn("Trace persist failed", "execution_id", res.ExecutionID, "error", err)
		}
	}
	return res, runErr
}

func (p *Pipeline) run(ctx context.Context, res *Result, store *Store) error {
	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			entry := TraceEntry{
				NodeID:     s.node.ID,
				Capability: s.node.Type,
				StartedAt:  p.now().UTC(),
				Status:     StatusFailed,
				Error:      err.Error(),
			}
			res.Trace = append(res.Trace, entry)
			p.transition(res, StatusFailed, s.node.ID)
			return p.nodeError(s, nil, err, res)
		}
		if err := p.runStep(ctx, s, res, store); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, s step, res *Result, store *Store) error {
	p.transition(res, StatusRunning, s.node.ID)
	entry := TraceEntry{NodeID: s.node.ID, Capability: s.node.Type, StartedAt: p.now().UTC()}

	nodeCtx, span := p.tracer.StartNode(ctx, s.node.ID, s.node.Type)
	defer span.End()
	p.logger.Info("Node started", "execution_id", res.ExecutionID, "node", s.node.ID, "capability", s.node.Type)
	p.emitter.Emit(nodeCtx, events.Event{Type: events.NodeStarted, ExecutionID: res.ExecutionID, Node: s.node.ID})

	params, err := p.resolveParams(s, store)
	if err == nil {
		entry.ResolvedParams = params
		if p.nodeTimeout > 0 {
			var cancel context.CancelFunc
			nodeCtx, cancel = context.WithTimeout(nodeCtx, p.nodeTimeout)
			defer cancel()
		}
		var out map[string]any
		out, err = s.cap.Invoke(nodeCtx, &capability.Invocation{NodeID: s.node.ID, Params: params, Shared: store})
		if err == nil {
			entry.Output = out
			store.SetNode(s.node.ID, declaredOutputs(s.desc, out))
		}
	}
	entry.Duration = p.now().Sub(entry.StartedAt)

	if err != nil {
		entry.Status = StatusFailed
		entry.Error = err.Error()
		res.Trace = append(res.Trace, entry)
		p.transition(res, StatusFailed, s.node.ID)
		p.metrics.RecordNode(s.node.Type, "error", entry.Duration)
		p.tracer.RecordError(span, err)
		p.logger.Error("Node failed", "execution_id", res.ExecutionID, "node", s.node.ID, "error", err, "elapsed", entry.Duration)
		p.emitter.Emit(ctx, events.Event{Type: events.NodeFailed, ExecutionID: res.ExecutionID, Node: s.node.ID,
			Data: map[string]any{"error": err.Error()}})
		return p.nodeError(s, params, err, res)
	}

	entry.Status = StatusCompleted
	res.Trace = append(res.Trace, entry)
	p.metrics.RecordNode(s.node.Type, "success", entry.Duration)
	p.tracer.SetSuccess(span)
	p.logger.Info("Node completed", "execution_id", res.ExecutionID, "node", s.node.ID, "elapsed", entry.Duration)
	p.emitter.Emit(ctx, events.Event{Type: events.NodeCompleted, ExecutionID: res.ExecutionID, Node: s.node.ID})
	return nil
}

func (p *Pipeline) nodeError(s step, params map[string]any, cause error, res *Result) *NodeError {
	return &NodeError{
		NodeID:     s.node.ID,
		Capability: s.node.Type,
		Params:     params,
		Cause:      cause,
		Trace:      append([]TraceEntry(nil), res.Trace...),
	}
}

// resolveParams applies descriptor defaults for absent keys and resolves
// every template against the store.
func (p *Pipeline) resolveParams(s step, store *Store) (map[string]any, error) {
	raw := make(map[string]any, len(s.node.Params))
	maps.Copy(raw, s.node.Params)
	if s.desc != nil {
		for _, fields := range []map[string]capability.Field{s.desc.Inputs, s.desc.Params} {
			for name, f := range fields {
				if _, ok := raw[name]; !ok && f.Default != nil {
					raw[name] = f.Default
				}
			}
		}
	}
	resolved, err := ir.Resolve(raw, store.Lookup)
	if err != nil {
		return nil, fmt.Errorf("resolve params: %w", err)
	}
	params, _ := resolved.(map[string]any)
	return params, nil
}

func declaredOutputs(d *capability.Descriptor, out map[string]any) map[string]any {
	if d == nil || !d.ChecksOutputs() {
		return out
	}
	kept := make(map[string]any, len(d.Outputs))
	for name := range d.Outputs {
		if v, ok := out[name]; ok {
			kept[name] = v
		}
	}
	return kept
}

// prepareInputs checks supplied inputs against the declared inputs, coerces
// them to the declared types, and applies defaults. Omitted optional inputs
// without a default are seeded as nil. Undeclared inputs are dropped.
func (p *Pipeline) prepareInputs(inputs map[string]any) (map[string]any, error) {
	seeded := make(map[string]any, len(p.wf.Inputs))
	var missing []string
	for _, name := range p.wf.InputNames() {
		spec := p.wf.Inputs[name]
		v, ok := inputs[name]
		if !ok || v == nil {
			if spec.Default != nil {
				seeded[name] = ir.DeepCopy(spec.Default)
				continue
			}
			if spec.Required {
				missing = append(missing, name)
				continue
			}
			seeded[name] = nil
			continue
		}
		cv, err := ir.Coerce(spec.Type, v)
		if err != nil {
			return nil, &InvalidInputError{Name: name, Type: spec.Type, Cause: err}
		}
		seeded[name] = cv
	}
	if len(missing) > 0 {
		return nil, &MissingInputError{Missing: missing}
	}
	for name := range inputs {
		if _, ok := p.wf.Inputs[name]; !ok {
			p.logger.Debug("Ignoring undeclared input", "input", name)
		}
	}
	return seeded, nil
}

func (p *Pipeline) assembleOutputs(store *Store) (map[string]any, error) {
	if len(p.wf.Outputs) == 0 {
		return map[string]any{}, nil
	}
	names := make([]string, 0, len(p.wf.Outputs))
	for name := range p.wf.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(map[string]any, len(names))
	for _, name := range names {
		v, err := ir.ResolveString(p.wf.Outputs[name].Source, store.Lookup)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w: %v", name, ErrOutputUnavailable, err)
		}
		out[name] = ir.DeepCopy(v)
	}
	return out, nil
}

func (p *Pipeline) transition(res *Result, state Status, node string) {
	res.Transitions = append(res.Transitions, Transition{State: state, Node: node, At: p.now().UTC()})
}

func displayName(wf *ir.Workflow) string {
	if wf.Name != "" {
		return wf.Name
	}
	return "workflow"
}

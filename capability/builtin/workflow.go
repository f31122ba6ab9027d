package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/ir"
)

// WorkflowPrefix prefixes the capability id of every saved workflow.
const WorkflowPrefix = "workflow/"

// ErrMaxDepth is returned when nested workflow invocation exceeds the limit.
var ErrMaxDepth = errors.New("nested workflow depth limit reached")

type depthKey struct{}

func depthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// WorkflowDescriptor derives the pseudo-capability descriptor of a saved workflow.
func WorkflowDescriptor(name, description string, wf *ir.Workflow) capability.Descriptor {
	if description == "" {
		description = wf.Description
	}
	if description == "" {
		description = "Run the saved workflow " + name
	}
	d := capability.Descriptor{
		ID:            WorkflowPrefix + name,
		Description:   description,
		Impl:          "workflow",
		ClosedOutputs: true,
		Inputs:        make(map[string]capability.Field, len(wf.Inputs)),
		Outputs:       make(map[string]capability.Field, len(wf.Outputs)),
	}
	for n, in := range wf.Inputs {
		d.Inputs[n] = capability.Field{Type: in.Type, Required: in.Required, Default: in.Default, Description: in.Description}
	}
	for n, out := range wf.Outputs {
		d.Outputs[n] = capability.Field{Type: out.Type, Description: out.Description}
	}
	return d
}

type savedWorkflow struct {
	name string
	opts Options
}

func (c savedWorkflow) Invoke(ctx context.Context, inv *capability.Invocation) (map[string]any, error) {
	depth := depthFrom(ctx)
	if depth >= c.opts.MaxDepth {
		return nil, fmt.Errorf("workflow %q: %w (%d)", c.name, ErrMaxDepth, c.opts.MaxDepth)
	}
	wf, err := c.opts.Workflows.Load(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", c.name, err)
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)
	res, err := executor.Run(ctx, wf, c.opts.Binder, inv.Params, c.opts.ExecOptions...)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", c.name, err)
	}
	return res.Outputs, nil
}

// RegisterWorkflows exposes every saved workflow in opts.Workflows as a
// workflow/<name> capability on reg, replacing earlier registrations.
// Workflows whose descriptors fail validation are skipped and logged.
func RegisterWorkflows(ctx context.Context, reg *capability.Registry, opts Options) (int, error) {
	opts = opts.withDefaults()
	if opts.Workflows == nil {
		return 0, nil
	}
	if opts.Binder == nil {
		opts.Binder = reg
	}
	summaries, err := opts.Workflows.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list saved workflows: %w", err)
	}
	for _, id := range reg.IDs() {
		if strings.HasPrefix(id, WorkflowPrefix) {
			reg.Unregister(id)
		}
	}
	n := 0
	for _, s := range summaries {
		wf, err := opts.Workflows.Load(ctx, s.Name)
		if err != nil {
			opts.Logger.Warn("Skipping saved workflow", "name", s.Name, "error", err)
			continue
		}
		d := WorkflowDescriptor(s.Name, s.Description, wf)
		if err := reg.Register(d, savedWorkflow{name: s.Name, opts: opts}); err != nil {
			opts.Logger.Warn("Skipping saved workflow", "name", s.Name, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

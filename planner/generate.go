package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/schema"
)

// GenerationInput is everything the generation stage sees. PreviousDraft
// and Errors are set on regeneration.
type GenerationInput struct {
	Request       string
	Selection     *Selection
	Descriptors   []capability.Descriptor
	Hints         *ExtractedParams
	PreviousDraft *ir.Workflow
	Errors        schema.ValidationErrors
}

// Regenerating reports whether the input carries a failed draft.
func (in GenerationInput) Regenerating() bool {
	return in.PreviousDraft != nil && len(in.Errors) > 0
}

// Generate asks the model for a workflow IR built only from the selected
// capabilities. It fails with ErrNoCapabilities when nothing was selected.
// The draft is returned unvalidated.
func (p *Planner) Generate(ctx context.Context, in GenerationInput) (*ir.Workflow, error) {
	if in.Selection.Empty() || len(in.Descriptors) == 0 {
		return nil, fmt.Errorf("generate: %w", ErrNoCapabilities)
	}
	wf, err := runStage(ctx, p, StageGeneration, generationPrompt(in), schema.GenerateIRSchema(),
		func(wf *ir.Workflow) error {
			if len(wf.Nodes) == 0 {
				return errors.New("workflow has no nodes")
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	if wf.Version == "" {
		wf.Version = ir.CurrentVersion
	}
	return wf, nil
}

package planner

import (
	"context"
	"fmt"

	"github.com/spinje/pflow-sub005/schema"
	"github.com/spinje/pflow-sub005/store"
)

// DiscoveryResult reports whether a saved workflow already satisfies the request.
type DiscoveryResult struct {
	Found        bool    `json:"found"`
	WorkflowName string  `json:"workflow_name"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

func discoverySchema() *schema.Schema {
	zero, one := 0.0, 1.0
	return (&schema.Schema{
		Type:     "object",
		Required: []string{"found", "confidence", "reasoning"},
		Properties: map[string]*schema.Schema{
			"found":         {Type: "boolean"},
			"workflow_name": {Type: "string"},
			"confidence":    {Type: "number", Minimum: &zero, Maximum: &one},
			"reasoning":     {Type: "string"},
		},
	}).SetAdditionalProperties(false)
}

// Discover asks whether one of the saved workflows already satisfies the
// request. A match is accepted only when the model reports it as found, it
// names a listed workflow, and its confidence reaches the discovery
// threshold; anything else is returned as no match. With no saved
// workflows the model is not consulted.
func (p *Planner) Discover(ctx context.Context, request string, saved []store.Summary) (*DiscoveryResult, error) {
	if len(saved) == 0 {
		p.logger.Debug("Discovery skipped", "reason", "no saved workflows")
		return &DiscoveryResult{Reasoning: "no saved workflows"}, nil
	}

	listed := make(map[string]bool, len(saved))
	for _, s := range saved {
		listed[s.Name] = true
	}
	res, err := runStage(ctx, p, StageDiscovery, discoveryPrompt(request, saved), discoverySchema(),
		func(r *DiscoveryResult) error {
			if r.Confidence < 0 || r.Confidence > 1 {
				return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	switch {
	case !res.Found:
	case !listed[res.WorkflowName]:
		p.logger.Info("Discovery match rejected", "workflow", res.WorkflowName, "reason", "not a saved workflow")
		res.Found = false
	case res.Confidence < p.cfg.DiscoveryThreshold:
		p.logger.Info("Discovery match rejected", "workflow", res.WorkflowName,
			"confidence", res.Confidence, "threshold", p.cfg.DiscoveryThreshold)
		res.Found = false
	default:
		p.logger.Info("Discovery matched saved workflow", "workflow", res.WorkflowName, "confidence", res.Confidence)
	}
	if !res.Found {
		res.WorkflowName = ""
	}
	return res, nil
}

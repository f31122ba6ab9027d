package planner

import (
	"context"

	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/capability/builtin"
	"github.com/spinje/pflow-sub005/schema"
	"github.com/spinje/pflow-sub005/store"
)

// Selection is the set of building blocks chosen for generation.
type Selection struct {
	CapabilityIDs []string `json:"capability_ids"`
	WorkflowNames []string `json:"workflow_names"`
	Reasoning     string   `json:"reasoning"`
}

// Empty reports whether nothing was selected.
func (s *Selection) Empty() bool {
	return s == nil || (len(s.CapabilityIDs) == 0 && len(s.WorkflowNames) == 0)
}

// Descriptors returns the catalog entries for the selection, in selection
// order. Saved workflows are included when they are registered as
// capabilities.
func (s *Selection) Descriptors(catalog []capability.Descriptor) []capability.Descriptor {
	if s == nil {
		return nil
	}
	byID := make(map[string]capability.Descriptor, len(catalog))
	for _, d := range catalog {
		byID[d.ID] = d
	}
	var out []capability.Descriptor
	for _, id := range s.CapabilityIDs {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	for _, name := range s.WorkflowNames {
		if d, ok := byID[builtin.WorkflowPrefix+name]; ok {
			out = append(out, d)
		}
	}
	return out
}

func selectionSchema() *schema.Schema {
	list := &schema.Schema{Type: "array", Items: &schema.Schema{Type: "string"}}
	return (&schema.Schema{
		Type:     "object",
		Required: []string{"capability_ids", "reasoning"},
		Properties: map[string]*schema.Schema{
			"capability_ids": list,
			"workflow_names": list,
			"reasoning":      {Type: "string"},
		},
	}).SetAdditionalProperties(false)
}

// Select asks the model which capabilities and saved workflows the request
// needs. Identifiers that are not in the catalog or the listing are dropped.
// The returned selection may be empty.
func (p *Planner) Select(ctx context.Context, request string, catalog []capability.Descriptor, saved []store.Summary) (*Selection, error) {
	raw, err := runStage[Selection](ctx, p, StageSelection, selectionPrompt(request, catalog, saved), selectionSchema(), nil)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(catalog))
	for _, d := range catalog {
		known[d.ID] = true
	}
	listed := make(map[string]bool, len(saved))
	for _, s := range saved {
		listed[s.Name] = true
	}

	sel := &Selection{Reasoning: raw.Reasoning}
	seen := make(map[string]bool)
	for _, id := range raw.CapabilityIDs {
		switch {
		case seen["c:"+id]:
		case !known[id]:
			p.logger.Warn("Selection dropped unknown capability", "capability", id)
		default:
			sel.CapabilityIDs = append(sel.CapabilityIDs, id)
		}
		seen["c:"+id] = true
	}
	for _, name := range raw.WorkflowNames {
		switch {
		case seen["w:"+name]:
		case !listed[name]:
			p.logger.Warn("Selection dropped unknown workflow", "workflow", name)
		default:
			sel.WorkflowNames = append(sel.WorkflowNames, name)
		}
		seen["w:"+name] = true
	}
	p.logger.Info("Components selected", "capabilities", sel.CapabilityIDs, "workflows", sel.WorkflowNames)
	return sel, nil
}

package planner

import (
	"context"
	"errors"
	"strings"

	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/schema"
	"github.com/spinje/pflow-sub005/store"
)

type metadataResponse struct {
	SuggestedName string   `json:"suggested_name"`
	Description   string   `json:"description"`
	Keywords      []string `json:"keywords"`
	Capabilities  []string `json:"capabilities"`
	UseCases      []string `json:"use_cases"`
}

func metadataSchema() *schema.Schema {
	list := &schema.Schema{Type: "array", Items: &schema.Schema{Type: "string"}}
	return (&schema.Schema{
		Type:     "object",
		Required: []string{"suggested_name", "description", "keywords"},
		Properties: map[string]*schema.Schema{
			"suggested_name": {Type: "string"},
			"description":    {Type: "string"},
			"keywords":       list,
			"capabilities":   list,
			"use_cases":      list,
		},
	}).SetAdditionalProperties(false)
}

// maxNameLength matches the store's name limit.
const maxNameLength = 128

// Synthesize asks the model for discovery metadata describing wf. The name
// is normalized to kebab-case and keywords are lowercased and de-duplicated.
// Capabilities default to the workflow's node types.
func (p *Planner) Synthesize(ctx context.Context, request string, wf *ir.Workflow) (*store.Metadata, error) {
	resp, err := runStage(ctx, p, StageMetadata, metadataPrompt(request, wf), metadataSchema(),
		func(r *metadataResponse) error {
			if KebabCase(r.SuggestedName) == "" {
				return errors.New("suggested_name is empty")
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	md := &store.Metadata{
		Name:         KebabCase(resp.SuggestedName),
		Description:  strings.TrimSpace(resp.Description),
		Keywords:     normalizeKeywords(resp.Keywords),
		Capabilities: dedupeStrings(resp.Capabilities),
		UseCases:     dedupeStrings(resp.UseCases),
	}
	if len(md.Capabilities) == 0 {
		md.Capabilities = wf.NodeTypes()
	}
	p.logger.Debug("Metadata synthesized", "workflow", md.Name, "keywords", md.Keywords)
	return md, nil
}

// KebabCase lowercases s and joins its alphanumeric runs with hyphens.
func KebabCase(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}
	out := b.String()
	if len(out) > maxNameLength {
		out = strings.TrimRight(out[:maxNameLength], "-")
	}
	return out
}

func normalizeKeywords(in []string) []string {
	lowered := make([]string, 0, len(in))
	for _, k := range in {
		lowered = append(lowered, strings.ToLower(k))
	}
	return dedupeStrings(lowered)
}

// dedupeStrings trims entries and drops blanks and repeats, keeping order.
func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

package planner

import (
	"context"
	"fmt"
	"sort"

	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/schema"
)

// Value sources recorded in a Mapping.
const (
	SourceProvided  = "provided"
	SourceExtracted = "extracted"
	SourceDefault   = "default"
)

// Mapping is the resolved set of workflow input values.
type Mapping struct {
	Values map[string]any `json:"values"`
	// Sources records where each value came from.
	Sources    map[string]string `json:"sources"`
	Missing    []string          `json:"missing,omitempty"`
	Ambiguous  []string          `json:"ambiguous,omitempty"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

type mappingResponse struct {
	Extracted  map[string]any `json:"extracted"`
	Ambiguous  []string       `json:"ambiguous"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
}

func mappingSchema() *schema.Schema {
	zero, one := 0.0, 1.0
	return (&schema.Schema{
		Type:     "object",
		Required: []string{"extracted", "confidence"},
		Properties: map[string]*schema.Schema{
			"extracted":  {Type: "object"},
			"ambiguous":  {Type: "array", Items: &schema.Schema{Type: "string"}},
			"confidence": {Type: "number", Minimum: &zero, Maximum: &one},
			"reasoning":  {Type: "string"},
		},
	}).SetAdditionalProperties(false)
}

// MapParams resolves a value for every declared input. For each input the
// caller's value wins, then a value extracted from the request and coerced
// to the declared type, then the declared default. Required inputs left
// without a value are reported through a *MissingInputsError returned
// alongside the mapping. hints only label which missing inputs the hint
// stage thought it had found.
func (p *Planner) MapParams(ctx context.Context, request string, inputs map[string]ir.InputSpec, hints *ExtractedParams, provided map[string]any) (*Mapping, error) {
	m := &Mapping{Values: make(map[string]any), Sources: make(map[string]string)}
	names := make([]string, 0, len(inputs))
	var ask []string
	for name := range inputs {
		names = append(names, name)
		if _, ok := provided[name]; !ok {
			ask = append(ask, name)
		}
	}
	sort.Strings(names)
	sort.Strings(ask)

	var resp mappingResponse
	if len(ask) > 0 {
		r, err := runStage(ctx, p, StageMapping, mappingPrompt(request, inputs, ask), mappingSchema(),
			func(r *mappingResponse) error {
				if r.Confidence < 0 || r.Confidence > 1 {
					return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
				}
				return nil
			})
		if err != nil {
			return nil, err
		}
		resp = *r
		m.Confidence, m.Reasoning = r.Confidence, r.Reasoning
	} else {
		m.Confidence = 1
	}

	ambiguous := make(map[string]bool, len(resp.Ambiguous))
	for _, name := range resp.Ambiguous {
		ambiguous[name] = true
	}

	missing := &MissingInputsError{}
	for _, name := range names {
		spec := inputs[name]
		if v, ok := provided[name]; ok {
			if cv, err := ir.Coerce(spec.Type, v); err == nil {
				v = cv
			}
			m.Values[name], m.Sources[name] = v, SourceProvided
			continue
		}
		if v, ok := resp.Extracted[name]; ok && !ambiguous[name] && !isEmptyValue(v) {
			cv, err := ir.Coerce(spec.Type, v)
			if err == nil {
				m.Values[name], m.Sources[name] = cv, SourceExtracted
				continue
			}
			p.logger.Debug("Extracted value rejected", "input", name, "type", spec.Type, "error", err)
		}
		if spec.Default != nil {
			m.Values[name], m.Sources[name] = ir.DeepCopy(spec.Default), SourceDefault
			continue
		}
		if !spec.Required {
			continue
		}
		missing.Missing = append(missing.Missing, name)
		if ambiguous[name] {
			missing.Ambiguous = append(missing.Ambiguous, name)
		}
		if hints.Has(name) {
			missing.HintedButMissing = append(missing.HintedButMissing, name)
		}
	}
	m.Missing, m.Ambiguous = missing.Missing, missing.Ambiguous

	if len(missing.Missing) > 0 {
		return m, missing
	}
	return m, nil
}

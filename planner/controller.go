package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/schema"
)

// Attempt kinds recorded in a History.
const (
	AttemptGenerated = "generated"
	AttemptRepaired  = "repaired"
	AttemptMalformed = "malformed"
)

// Attempt is one draft considered by the controller.
type Attempt struct {
	// Generation is the 1-based generation this attempt belongs to. A
	// repair shares the number of the draft it fixed.
	Generation int                     `json:"generation"`
	Kind       string                  `json:"kind"`
	Workflow   *ir.Workflow            `json:"workflow,omitempty"`
	Errors     schema.ValidationErrors `json:"errors,omitempty"`
	Repairs    []string                `json:"repairs,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// History records every draft the controller produced, in order.
type History struct {
	Attempts []Attempt `json:"attempts"`
}

// Generations returns how many generation calls were made.
func (h *History) Generations() int {
	if h == nil {
		return 0
	}
	n := 0
	for _, a := range h.Attempts {
		if a.Kind != AttemptRepaired {
			n++
		}
	}
	return n
}

// Repaired reports whether any mechanical repair was applied.
func (h *History) Repaired() bool {
	if h == nil {
		return false
	}
	for _, a := range h.Attempts {
		if a.Kind == AttemptRepaired {
			return true
		}
	}
	return false
}

func (h *History) add(a Attempt) { h.Attempts = append(h.Attempts, a) }

// Controller drives the generate and validate loop.
type Controller struct {
	p *Planner
}

// Controller returns the regeneration controller for p.
func (p *Planner) Controller() *Controller { return &Controller{p: p} }

// Run generates a draft and validates it against the full catalog. Failing
// drafts are first offered to mechanical repair, then sent back to the
// model with their findings, for at most MaxRetries regenerations. A
// malformed generation response uses up an attempt like an invalid draft.
func (c *Controller) Run(ctx context.Context, in GenerationInput) (*ir.Workflow, *History, error) {
	p := c.p
	hist := &History{}
	catalog, err := p.catalog.List(ctx)
	if err != nil {
		return nil, hist, fmt.Errorf("regenerate: list capabilities: %w", err)
	}
	validate := func(wf *ir.Workflow) schema.ValidationErrors {
		return schema.Validate(wf, schema.WithCatalog(catalog))
	}

	limit := p.cfg.MaxRetries + 1
	var last schema.ValidationErrors
	for gen := 1; gen <= limit; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, hist, err
		}
		wf, err := p.Generate(ctx, in)
		if err != nil {
			if !errors.Is(err, ai.ErrMalformedResponse) {
				return nil, hist, err
			}
			hist.add(Attempt{Generation: gen, Kind: AttemptMalformed, Error: err.Error()})
			p.metrics.RecordRegeneration(AttemptMalformed)
			p.logger.Warn("Generation response malformed", "generation", gen, "error", err)
			continue
		}

		errs := validate(wf)
		hist.add(Attempt{Generation: gen, Kind: AttemptGenerated, Workflow: wf.Clone(), Errors: errs})
		if len(errs) == 0 {
			p.metrics.RecordRegeneration("valid")
			p.logger.Info("Workflow generated", "generation", gen, "nodes", len(wf.Nodes))
			return wf, hist, nil
		}
		p.logger.Info("Workflow draft invalid", "generation", gen, "codes", errs.Codes())

		if p.cfg.AutoRepair {
			if fixed, ferrs, notes, ok := repair(wf, errs, catalog, validate); ok {
				hist.add(Attempt{Generation: gen, Kind: AttemptRepaired, Workflow: fixed.Clone(), Errors: ferrs, Repairs: notes})
				p.logger.Info("Workflow draft repaired", "generation", gen, "repairs", notes, "remaining", len(ferrs))
				if len(ferrs) == 0 {
					p.metrics.RecordRegeneration(AttemptRepaired)
					return fixed, hist, nil
				}
				wf, errs = fixed, ferrs
			}
		}

		p.metrics.RecordRegeneration("invalid")
		last = errs
		in.PreviousDraft, in.Errors = wf, errs
	}
	return nil, hist, &RetryExhaustedError{Attempts: limit, Last: last, History: hist}
}

// descriptorIndex maps capability ids to descriptors.
func descriptorIndex(catalog []capability.Descriptor) map[string]capability.Descriptor {
	idx := make(map[string]capability.Descriptor, len(catalog))
	for _, d := range catalog {
		idx[d.ID] = d
	}
	return idx
}

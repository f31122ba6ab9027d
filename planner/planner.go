// Package planner turns a natural-language request into a validated workflow
// by running a fixed sequence of LLM-backed stages: discovery, component
// selection, parameter hints, generation with validation-driven
// regeneration, parameter mapping, and metadata synthesis.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/config"
	"github.com/spinje/pflow-sub005/events"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/observability/metrics"
	"github.com/spinje/pflow-sub005/observability/tracing"
	"github.com/spinje/pflow-sub005/store"
)

// Stage names. They label requests, spans, metrics, and events.
const (
	StageDiscovery  = "discovery"
	StageSelection  = "selection"
	StageHints      = "hints"
	StageGeneration = "generation"
	StageMapping    = "mapping"
	StageMetadata   = "metadata"
)

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracer sets the span factory.
func WithTracer(t *tracing.Tracer) Option {
	return func(p *Planner) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Planner) { p.metrics = c }
}

// WithPublisher sets the stage event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Planner) { p.publisher = pub }
}

// WithConfig sets the planner bounds. Non-positive retry, timeout, and
// threshold values keep their defaults; StageRetries may be zero.
func WithConfig(cfg config.PlannerConfig) Option {
	return func(p *Planner) {
		if cfg.MaxRetries > 0 {
			p.cfg.MaxRetries = cfg.MaxRetries
		}
		p.cfg.StageRetries = max(cfg.StageRetries, 0)
		if cfg.StageTimeout > 0 {
			p.cfg.StageTimeout = cfg.StageTimeout
		}
		if cfg.DiscoveryThreshold > 0 {
			p.cfg.DiscoveryThreshold = cfg.DiscoveryThreshold
		}
		p.cfg.AutoRepair = cfg.AutoRepair
	}
}

// WithStore sets the saved workflow store used for discovery, selection,
// and saving. Without one the planner always generates.
func WithStore(s store.WorkflowStore) Option {
	return func(p *Planner) { p.workflows = s }
}

// DefaultConfig returns the planner bounds used when none are configured.
func DefaultConfig() config.PlannerConfig {
	return config.PlannerConfig{
		MaxRetries:         3,
		StageRetries:       1,
		StageTimeout:       90 * time.Second,
		DiscoveryThreshold: 0.8,
		AutoRepair:         true,
	}
}

// Planner runs the planning pipeline against one provider and catalog.
type Planner struct {
	provider  ai.Provider
	catalog   capability.Catalog
	workflows store.WorkflowStore
	cfg       config.PlannerConfig
	logger    *slog.Logger
	tracer    *tracing.Tracer
	metrics   *metrics.Collector
	publisher events.Publisher
	emitter   *events.Emitter
}

// New creates a Planner.
func New(provider ai.Provider, catalog capability.Catalog, opts ...Option) *Planner {
	p := &Planner{
		provider: provider,
		catalog:  catalog,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		tracer:   tracing.NewTracer(nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.emitter = events.NewEmitter(p.publisher, p.logger)
	return p
}

// Config returns the effective planner bounds.
func (p *Planner) Config() config.PlannerConfig { return p.cfg }

// PlanRequest is the input to Plan.
type PlanRequest struct {
	Request string
	// Provided holds input values supplied by the caller. They take
	// precedence over anything extracted from the request.
	Provided map[string]any
	// Save stores the generated workflow under Name, or under the
	// synthesized name when Name is empty.
	Save bool
	Name string
}

// PlanResult is the outcome of Plan.
type PlanResult struct {
	Workflow *ir.Workflow
	Name     string
	// Reused is true when discovery matched a saved workflow.
	Reused    bool
	Inputs    map[string]any
	Mapping   *Mapping
	Metadata  *store.Metadata
	History   *History
	Discovery *DiscoveryResult
	Selection *Selection
	Saved     bool
}

// Plan runs the full pipeline. When required inputs cannot be resolved the
// result is returned together with a *MissingInputsError; the workflow is
// never executed here.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	if req.Request == "" {
		return nil, fmt.Errorf("plan: empty request")
	}
	ctx, span := p.tracer.StartPlan(ctx, req.Request)
	start := time.Now()
	p.logger.Info("Planning started", "request_length", len(req.Request))

	res, err := p.plan(ctx, req)
	var missing *MissingInputsError
	switch {
	case err == nil:
		p.logger.Info("Planning completed", "workflow", res.Name, "reused", res.Reused, "elapsed", time.Since(start))
		p.tracer.Finish(span, nil)
	case errors.As(err, &missing):
		p.logger.Warn("Planning completed with missing inputs", "workflow", res.Name, "missing", missing.Missing, "elapsed", time.Since(start))
		p.tracer.Finish(span, err)
	default:
		p.logger.Error("Planning failed", "error", err, "elapsed", time.Since(start))
		p.tracer.Finish(span, err)
	}
	return res, err
}

func (p *Planner) plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	var summaries []store.Summary
	if p.workflows != nil {
		list, err := p.workflows.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("plan: list saved workflows: %w", err)
		}
		summaries = list
	}

	disc, err := p.Discover(ctx, req.Request, summaries)
	if err != nil {
		return nil, err
	}
	if disc.Found {
		return p.reuse(ctx, req, disc)
	}

	descs, err := p.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("plan: list capabilities: %w", err)
	}
	sel, err := p.Select(ctx, req.Request, descs, summaries)
	if err != nil {
		return nil, err
	}
	res := &PlanResult{Discovery: disc, Selection: sel}
	if sel.Empty() {
		return res, fmt.Errorf("plan: %w", ErrNoCapabilities)
	}

	hints, err := p.ExtractHints(ctx, req.Request, sel)
	if err != nil {
		return nil, err
	}

	wf, hist, err := p.Controller().Run(ctx, GenerationInput{
		Request:     req.Request,
		Selection:   sel,
		Descriptors: sel.Descriptors(descs),
		Hints:       hints,
	})
	res.History = hist
	if err != nil {
		return res, err
	}

	mapping, mapErr := p.MapParams(ctx, req.Request, wf.Inputs, hints, req.Provided)
	if mapping != nil {
		res.Mapping = mapping
		res.Inputs = mapping.Values
	}
	if mapErr != nil && !errors.Is(mapErr, ErrMissingRequiredInput) {
		return res, mapErr
	}

	md, err := p.Synthesize(ctx, req.Request, wf)
	if err != nil {
		return res, err
	}
	if req.Name != "" {
		if err := store.ValidateName(req.Name); err != nil {
			return res, fmt.Errorf("plan: %w", err)
		}
		md.Name = req.Name
	}
	wf.Name = md.Name
	if wf.Description == "" {
		wf.Description = md.Description
	}
	res.Workflow, res.Name, res.Metadata = wf, md.Name, md

	if req.Save {
		if p.workflows == nil {
			return res, fmt.Errorf("plan: save requested but no workflow store is configured")
		}
		if err := p.workflows.Save(ctx, md.Name, wf, *md); err != nil {
			return res, fmt.Errorf("plan: save workflow %s: %w", md.Name, err)
		}
		res.Saved = true
		p.logger.Info("Workflow saved", "workflow", md.Name)
	}
	return res, mapErr
}

func (p *Planner) reuse(ctx context.Context, req PlanRequest, disc *DiscoveryResult) (*PlanResult, error) {
	wf, err := p.workflows.Load(ctx, disc.WorkflowName)
	if err != nil {
		return nil, fmt.Errorf("plan: load %s: %w", disc.WorkflowName, err)
	}
	res := &PlanResult{Workflow: wf, Name: disc.WorkflowName, Reused: true, Discovery: disc}
	if md, err := p.workflows.Metadata(ctx, disc.WorkflowName); err == nil {
		res.Metadata = md
	}
	mapping, err := p.MapParams(ctx, req.Request, wf.Inputs, nil, req.Provided)
	if mapping != nil {
		res.Mapping = mapping
		res.Inputs = mapping.Values
	}
	return res, err
}

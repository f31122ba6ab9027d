package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer creates spans for planning and execution.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer. If tracer is nil, the global tracer provider is used.
func NewTracer(tracer trace.Tracer) *Tracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("pflow")
	}
	return &Tracer{tracer: tracer}
}

// StartPlan begins the root span for one planning request.
func (t *Tracer) StartPlan(ctx context.Context, request string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pflow.plan",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("pflow.request.length", len(request))),
	)
}

// StartStage begins a child span for a planner stage.
func (t *Tracer) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pflow.stage."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pflow.stage", stage)),
	)
}

// StartExecution begins the span for a workflow run.
func (t *Tracer) StartExecution(ctx context.Context, executionID, workflowName string, nodes int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pflow.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pflow.execution.id", executionID),
			attribute.String("pflow.workflow.name", workflowName),
			attribute.Int("pflow.workflow.nodes", nodes),
		),
	)
}

// StartNode begins a child span for one node invocation.
func (t *Tracer) StartNode(ctx context.Context, nodeID, capability string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pflow.node."+nodeID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pflow.node.id", nodeID),
			attribute.String("pflow.node.capability", capability),
		),
	)
}

// RecordError records an error on the given span and sets the span status.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks a span as successful.
func (t *Tracer) SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Finish ends span, recording err when non-nil and success otherwise.
func (t *Tracer) Finish(span trace.Span, err error) {
	if err != nil {
		t.RecordError(span, err)
	} else {
		t.SetSuccess(span)
	}
	span.End()
}

package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/events"
	"github.com/spinje/pflow-sub005/schema"
)

const retryTemperature = 0.3

// prompt is the text of one stage request.
type prompt struct {
	system string
	user   string
}

// runStage issues the structured request for a stage and decodes the reply
// into a fresh T. Malformed replies, including ones rejected by check, are
// re-asked up to StageRetries times before a *StageError is returned.
// Provider errors are returned immediately.
func runStage[T any](ctx context.Context, p *Planner, stage string, pr prompt, respSchema *schema.Schema, check func(*T) error) (*T, error) {
	ctx, span := p.tracer.StartStage(ctx, stage)
	start := time.Now()
	p.logger.Debug("Stage started", "stage", stage)
	p.emitter.Emit(ctx, events.Event{Type: events.StageStarted, Stage: stage})

	out, attempts, err := callStage(ctx, p, stage, pr, respSchema, check)

	elapsed := time.Since(start)
	p.tracer.Finish(span, err)
	if err != nil {
		p.metrics.RecordStage(stage, "error", elapsed)
		p.logger.Warn("Stage failed", "stage", stage, "attempts", attempts, "elapsed", elapsed, "error", err)
		p.emitter.Emit(ctx, events.Event{Type: events.StageFailed, Stage: stage, Data: map[string]any{
			"attempts": attempts,
			"elapsed":  elapsed.String(),
			"error":    err.Error(),
		}})
		return nil, err
	}
	p.metrics.RecordStage(stage, "success", elapsed)
	p.logger.Debug("Stage completed", "stage", stage, "attempts", attempts, "elapsed", elapsed)
	p.emitter.Emit(ctx, events.Event{Type: events.StageCompleted, Stage: stage, Data: map[string]any{
		"attempts": attempts,
		"elapsed":  elapsed.String(),
	}})
	return out, nil
}

func callStage[T any](ctx context.Context, p *Planner, stage string, pr prompt, respSchema *schema.Schema, check func(*T) error) (*T, int, error) {
	req := ai.NewRequest(stage, pr.system, pr.user)
	if respSchema != nil {
		data, err := json.Marshal(respSchema)
		if err != nil {
			return nil, 0, fmt.Errorf("planner stage %s: encode response schema: %w", stage, err)
		}
		req.Schema = data
	}

	var lastErr error
	attempts := 0
	for attempts <= p.cfg.StageRetries {
		attempts++
		if attempts > 1 {
			req.Temperature = retryTemperature
		}
		out, err := askOnce(ctx, p, req, check)
		if err == nil {
			return out, attempts, nil
		}
		if !errors.Is(err, ai.ErrMalformedResponse) {
			return nil, attempts, err
		}
		lastErr = err
		p.logger.Debug("Stage response malformed", "stage", stage, "attempt", attempts, "error", err)
	}
	return nil, attempts, &StageError{Stage: stage, Cause: lastErr}
}

func askOnce[T any](ctx context.Context, p *Planner, req ai.CompletionRequest, check func(*T) error) (*T, error) {
	callCtx := ctx
	if p.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
	}
	req.Accept = func(resp *ai.CompletionResponse) error {
		_, err := decodeStage(resp, check)
		return err
	}
	resp, err := p.provider.Complete(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("planner stage %s: %w", req.Stage, err)
	}
	return decodeStage(resp, check)
}

func decodeStage[T any](resp *ai.CompletionResponse, check func(*T) error) (*T, error) {
	out := new(T)
	if err := ai.DecodeStrict(resp.Content, out); err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(out); err != nil {
			return nil, fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err)
		}
	}
	return out, nil
}

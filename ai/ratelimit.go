package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider bounds the request rate to a provider.
type RateLimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider allows rps requests per second with the given burst.
// A non-positive rps disables limiting.
func NewRateLimitedProvider(next Provider, rps float64, burst int) *RateLimitedProvider {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (p *RateLimitedProvider) Name() string { return p.next.Name() }

// Complete waits for a token, then forwards the request.
func (p *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return p.next.Complete(ctx, req)
}

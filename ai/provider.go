// Package ai defines the language model boundary used by the planner: a
// provider interface, structured response decoding, and provider decorators
// for caching and rate limiting.
package ai

import (
	"context"
	"encoding/json"
)

// Provider is a language model backend.
type Provider interface {
	// Name returns the provider's identifier (e.g. "anthropic", "scripted").
	Name() string

	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is the input for a non-streaming completion call.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature float64   `json:"temperature"`
	// Stage names the pipeline stage issuing the request. Providers may use
	// it for routing; the scripted provider keys its responses by it.
	Stage string `json:"stage,omitempty"`
	// Schema is the JSON Schema the response is expected to satisfy.
	Schema json.RawMessage `json:"schema,omitempty"`
	// Accept, when set, reports whether a response is usable. Caching
	// providers store only accepted responses.
	Accept func(*CompletionResponse) error `json:"-"`
}

// Message is a single message in a conversation.
type Message struct {
	Role    string `json:"role"` // "user", "assistant"
	Content string `json:"content"`
}

// CompletionResponse is the output of a completion call.
type CompletionResponse struct {
	ID           string     `json:"id"`
	Model        string     `json:"model"`
	Content      string     `json:"content"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finishReason"`
	// Cached is true when the response was served from a cache.
	Cached bool `json:"cached,omitempty"`
}

// TokenUsage tracks input and output token counts.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// NewRequest builds a single-turn request for a stage.
func NewRequest(stage, system, user string) CompletionRequest {
	return CompletionRequest{
		Stage:    stage,
		System:   system,
		Messages: []Message{{Role: "user", Content: user}},
	}
}

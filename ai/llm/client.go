// Package llm implements ai.Provider on the Anthropic Messages API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spinje/pflow-sub005/ai"
)

const (
	defaultModel   = "claude-sonnet-4-20250514"
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	maxTokens      = 4096
	maxAttempts    = 3
)

// ClientConfig holds configuration for the Anthropic LLM client.
type ClientConfig struct {
	APIKey    string        // Defaults to ANTHROPIC_API_KEY env var
	Model     string        // Defaults to claude-sonnet-4-20250514
	BaseURL   string        // Defaults to https://api.anthropic.com
	MaxTokens int           // Defaults to 4096
	Timeout   time.Duration // HTTP client timeout; zero means none
	Logger    *slog.Logger
}

// Client implements ai.Provider using the Anthropic Claude API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
	backoff    time.Duration
}

// NewClient creates a new Anthropic LLM client.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	tokens := cfg.MaxTokens
	if tokens <= 0 {
		tokens = maxTokens
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		maxTokens:  tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		backoff:    time.Second,
	}, nil
}

// -- Anthropic API types --

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      apiUsage       `json:"usage"`
}

// statusError is returned for non-200 responses.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.status, e.body)
}

func (e *statusError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

func (c *Client) Name() string { return "anthropic" }

// Complete sends the request to the Messages API. Rate limit and server
// errors are retried with exponential backoff.
func (c *Client) Complete(ctx context.Context, req ai.CompletionRequest) (*ai.CompletionResponse, error) {
	apiReq := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt(req),
	}
	if req.Model != "" {
		apiReq.Model = req.Model
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, message(m))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*apiResponse, error) {
		attempt++
		resp, err := c.call(ctx, apiReq)
		if err == nil {
			return resp, nil
		}
		var se *statusError
		if !errors.As(err, &se) || !se.retryable() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("LLM request failed, retrying", "stage", req.Stage, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("LLM call failed: %w", err)
	}
	return toCompletion(resp), nil
}

func systemPrompt(req ai.CompletionRequest) string {
	if len(req.Schema) == 0 {
		return req.System
	}
	return req.System + "\n\nRespond with a single JSON object that satisfies this JSON Schema:\n" + string(req.Schema)
}

func toCompletion(resp *apiResponse) *ai.CompletionResponse {
	var texts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	return &ai.CompletionResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      strings.Join(texts, "\n"),
		FinishReason: resp.StopReason,
		Usage: ai.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
}

func (c *Client) call(ctx context.Context, req apiRequest) (*apiResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &apiResp, nil
}

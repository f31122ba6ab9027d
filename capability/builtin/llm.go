package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/ir"
)

// ErrNoProvider is returned by the llm capability when no provider is configured.
var ErrNoProvider = errors.New("no language model provider configured")

// llmStage is the stage name llm capability requests carry.
const llmStage = "llm"

type llmPrompt struct{ opts Options }

func (c llmPrompt) Invoke(ctx context.Context, inv *capability.Invocation) (map[string]any, error) {
	if c.opts.Provider == nil {
		return nil, fmt.Errorf("llm: %w", ErrNoProvider)
	}
	prompt := inv.String("prompt")
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("llm: prompt is required")
	}
	req := ai.NewRequest(llmStage, inv.String("system"), prompt)
	req.Model = inv.String("model")
	if v, ok := inv.Params["max_tokens"]; ok && v != nil {
		n, err := ir.Coerce("integer", v)
		if err != nil {
			return nil, fmt.Errorf("llm: max_tokens: %w", err)
		}
		req.MaxTokens = n.(int)
	}
	resp, err := c.opts.Provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	return map[string]any{"response": resp.Content}, nil
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrNoScriptedResponse is returned when a stage has no scripted response.
var ErrNoScriptedResponse = errors.New("no scripted response")

// ScriptFunc computes a response for a request.
type ScriptFunc func(req CompletionRequest) (string, error)

// ScriptedProvider replays canned responses keyed by request stage. Each
// stage serves its queue in order and then keeps repeating the last entry.
type ScriptedProvider struct {
	mu     sync.Mutex
	queues map[string][]ScriptFunc
	calls  []CompletionRequest
}

// NewScriptedProvider creates a provider with no responses.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{queues: make(map[string][]ScriptFunc)}
}

// On appends literal responses for stage.
func (p *ScriptedProvider) On(stage string, responses ...string) *ScriptedProvider {
	for _, r := range responses {
		text := r
		p.OnFunc(stage, func(CompletionRequest) (string, error) { return text, nil })
	}
	return p
}

// OnError appends a failing response for stage.
func (p *ScriptedProvider) OnError(stage string, err error) *ScriptedProvider {
	return p.OnFunc(stage, func(CompletionRequest) (string, error) { return "", err })
}

// OnFunc appends a computed response for stage.
func (p *ScriptedProvider) OnFunc(stage string, fn ScriptFunc) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[stage] = append(p.queues[stage], fn)
	return p
}

func (p *ScriptedProvider) Name() string { return "scripted" }

func (p *ScriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls = append(p.calls, req)
	queue := p.queues[req.Stage]
	if len(queue) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w for stage %q", ErrNoScriptedResponse, req.Stage)
	}
	fn := queue[0]
	if len(queue) > 1 {
		p.queues[req.Stage] = queue[1:]
	}
	p.mu.Unlock()

	text, err := fn(req)
	if err != nil {
		return nil, err
	}
	return &CompletionResponse{
		ID:           uuid.NewString(),
		Model:        "scripted",
		Content:      text,
		FinishReason: "end_turn",
	}, nil
}

// Calls returns a copy of every request received so far.
func (p *ScriptedProvider) Calls() []CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompletionRequest(nil), p.calls...)
}

// CallCount returns how many requests were made for stage.
func (p *ScriptedProvider) CallCount(stage string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Stage == stage {
			n++
		}
	}
	return n
}

// LoadScript reads a YAML file mapping stage names to lists of responses.
func LoadScript(path string) (*ScriptedProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	var script map[string][]string
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	p := NewScriptedProvider()
	for stage, responses := range script {
		p.On(stage, responses...)
	}
	return p, nil
}

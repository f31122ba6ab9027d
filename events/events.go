// Package events publishes lifecycle events for planning and execution.
// Publishing is best effort: failures are logged by the caller's Emitter and
// never interrupt the operation being observed.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event types.
const (
	StageStarted       = "plan.stage.started"
	StageCompleted     = "plan.stage.completed"
	StageFailed        = "plan.stage.failed"
	ExecutionStarted   = "execution.started"
	ExecutionCompleted = "execution.completed"
	ExecutionFailed    = "execution.failed"
	NodeStarted        = "node.started"
	NodeCompleted      = "node.completed"
	NodeFailed         = "node.failed"
)

// Event is a single lifecycle notification.
type Event struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Node        string         `json:"node,omitempty"`
	Stage       string         `json:"stage,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Time        time.Time      `json:"time"`
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emitter stamps and publishes events, logging delivery failures.
// A nil *Emitter discards everything.
type Emitter struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter wraps pub. A nil pub yields an emitter that discards events.
func NewEmitter(pub Publisher, logger *slog.Logger) *Emitter {
	if pub == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, logger: logger, now: time.Now}
}

// Emit publishes e, filling in Time when unset.
func (em *Emitter) Emit(ctx context.Context, e Event) {
	if em == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = em.now().UTC()
	}
	if err := em.pub.Publish(ctx, e); err != nil {
		em.logger.Warn("Event publish failed", "type", e.Type, "error", err)
	}
}

// Memory records events in order. It is intended for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Types returns the recorded event types in order.
func (m *Memory) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.events))
	for i, e := range m.events {
		types[i] = e.Type
	}
	return types
}

// Log writes events to a slog logger.
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLog creates a publisher that logs at level.
func NewLog(logger *slog.Logger, level slog.Level) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, level: level}
}

func (l *Log) Publish(ctx context.Context, e Event) error {
	attrs := []any{"type", e.Type}
	if e.ExecutionID != "" {
		attrs = append(attrs, "execution_id", e.ExecutionID)
	}
	if e.Stage != "" {
		attrs = append(attrs, "stage", e.Stage)
	}
	if e.Node != "" {
		attrs = append(attrs, "node", e.Node)
	}
	if len(e.Data) > 0 {
		attrs = append(attrs, "data", e.Data)
	}
	l.logger.Log(ctx, l.level, "Event", attrs...)
	return nil
}

// Multi fans an event out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

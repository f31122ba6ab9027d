package executor

import (
	"time"
)

// Status is a state of the execution state machine.
type Status string

const (
	StatusSeeded    Status = "seeded"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transition records one state change. Node is set for running and failed.
type Transition struct {
	State Status    `json:"state"`
	Node  string    `json:"node,omitempty"`
	At    time.Time `json:"at"`
}

// TraceEntry records a single node invocation.
type TraceEntry struct {
	NodeID         string         `json:"node_id"`
	Capability     string         `json:"capability"`
	ResolvedParams map[string]any `json:"resolved_params,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	Status         Status         `json:"status"`
	Error          string         `json:"error,omitempty"`
}

// Result is the outcome of one pipeline execution.
type Result struct {
	ExecutionID string         `json:"execution_id"`
	Workflow    string         `json:"workflow,omitempty"`
	Status      Status         `json:"status"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Trace       []TraceEntry   `json:"trace"`
	Transitions []Transition   `json:"transitions"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Error       string         `json:"error,omitempty"`
}

// FailedNode returns the id of the node that failed, if any.
func (r *Result) FailedNode() string {
	for i := len(r.Trace) - 1; i >= 0; i-- {
		if r.Trace[i].Status == StatusFailed {
			return r.Trace[i].NodeID
		}
	}
	return ""
}

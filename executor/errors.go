package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOutputUnavailable is returned when a declared workflow output cannot be
// read from the store after every node completed.
var ErrOutputUnavailable = errors.New("workflow output unavailable")

// MissingInputError reports required workflow inputs that were not supplied.
type MissingInputError struct {
	Missing []string
}

func (e *MissingInputError) Error() string {
	return "missing required inputs: " + strings.Join(e.Missing, ", ")
}

// InvalidInputError reports a supplied input that does not match its declared type.
type InvalidInputError struct {
	Name  string
	Type  string
	Cause error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("input %q is not a valid %s: %v", e.Name, e.Type, e.Cause)
}

func (e *InvalidInputError) Unwrap() error { return e.Cause }

// NodeError reports a failed node invocation together with the trace recorded
// up to and including the failure.
type NodeError struct {
	NodeID     string
	Capability string
	Params     map[string]any
	Cause      error
	Trace      []TraceEntry
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (%s) failed: %v", e.NodeID, e.Capability, e.Cause)
}

func (e *NodeError) Unwrap() error { return e.Cause }

package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSchemaViolation is matched by every validation finding.
	ErrSchemaViolation = errors.New("schema violation")
	// ErrUnresolvedTemplate is matched by findings about template references
	// that cannot be satisfied.
	ErrUnresolvedTemplate = errors.New("unresolved template")
)

// Finding codes. Each names one class of violation so regeneration can target it.
const (
	CodeSchema             = "schema"
	CodeVersion            = "version"
	CodeDuplicateNode      = "duplicate_node"
	CodeUnknownCapability  = "unknown_capability"
	CodeUnknownEdgeNode    = "unknown_edge_node"
	CodeBranching          = "branching"
	CodeStartNode          = "start_node"
	CodeCycle              = "cycle"
	CodeDisconnected       = "disconnected"
	CodeUnresolvedTemplate = "unresolved_template"
	CodeForwardReference   = "forward_reference"
	CodeUnknownOutput      = "unknown_output"
	CodeMissingNodeInput   = "missing_node_input"
	CodeUnknownParam       = "unknown_param"
	CodeUnusedInput        = "unused_input"
	CodeNameCollision      = "name_collision"
	CodeUnresolvedOutput   = "unresolved_output"
)

// ValidationError represents a single validation failure with the path to the
// offending field, a human-readable message, and an optional suggested fix.
type ValidationError struct {
	Code       string `json:"code"`
	Path       string `json:"path,omitempty"` // dot-separated path (e.g. "nodes[0].params.file_path")
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is reports whether the finding belongs to target's class.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrSchemaViolation:
		return true
	case ErrUnresolvedTemplate:
		return e.Code == CodeUnresolvedTemplate || e.Code == CodeForwardReference || e.Code == CodeUnknownOutput
	}
	return false
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []*ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("workflow validation failed with %d error(s):\n  - %s",
		len(ve), strings.Join(msgs, "\n  - "))
}

// Unwrap exposes the individual findings to errors.Is and errors.As.
func (ve ValidationErrors) Unwrap() []error {
	errs := make([]error, len(ve))
	for i, e := range ve {
		errs[i] = e
	}
	return errs
}

// Err returns ve as an error, or nil when there are no findings.
func (ve ValidationErrors) Err() error {
	if len(ve) == 0 {
		return nil
	}
	return ve
}

// Codes returns the distinct finding codes in sorted order.
func (ve ValidationErrors) Codes() []string {
	seen := make(map[string]bool)
	var codes []string
	for _, e := range ve {
		if !seen[e.Code] {
			seen[e.Code] = true
			codes = append(codes, e.Code)
		}
	}
	sort.Strings(codes)
	return codes
}

// ByCode returns the findings with the given code.
func (ve ValidationErrors) ByCode(code string) ValidationErrors {
	var out ValidationErrors
	for _, e := range ve {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether any finding has the given code.
func (ve ValidationErrors) Has(code string) bool {
	for _, e := range ve {
		if e.Code == code {
			return true
		}
	}
	return false
}

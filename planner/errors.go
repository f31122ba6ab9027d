package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/schema"
)

// Sentinel errors returned (wrapped) by the planner.
var (
	ErrNoCapabilities       = errors.New("no capabilities selected")
	ErrRetryExhausted       = errors.New("regeneration retries exhausted")
	ErrMissingRequiredInput = errors.New("missing required input")
	ErrAmbiguousExtraction  = errors.New("ambiguous parameter extraction")
)

// StageError reports a stage whose model response could not be used.
type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("planner stage %s: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Is reports malformed-response failures as ai.ErrMalformedResponse so
// callers can match a StageError without unwrapping the decode chain.
func (e *StageError) Is(target error) bool {
	return target == ai.ErrMalformedResponse && errors.Is(e.Cause, ai.ErrMalformedResponse)
}

// RetryExhaustedError is returned when no generated draft passed validation
// within the regeneration bound.
type RetryExhaustedError struct {
	Attempts int
	Last     schema.ValidationErrors
	History  *History
}

func (e *RetryExhaustedError) Error() string {
	if len(e.Last) == 0 {
		return fmt.Sprintf("%v after %d attempts", ErrRetryExhausted, e.Attempts)
	}
	return fmt.Sprintf("%v after %d attempts: %s", ErrRetryExhausted, e.Attempts, strings.Join(e.Last.Codes(), ", "))
}

func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// Unwrap exposes the last validation findings.
func (e *RetryExhaustedError) Unwrap() error { return e.Last.Err() }

// MissingInputsError lists required workflow inputs that could not be
// resolved from the caller, the request, or declared defaults.
type MissingInputsError struct {
	Missing []string
	// HintedButMissing are missing inputs the hint stage believed it found.
	HintedButMissing []string
	// Ambiguous are missing inputs the mapping stage marked ambiguous.
	Ambiguous []string
}

func (e *MissingInputsError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing required inputs: %s", strings.Join(e.Missing, ", ")))
	if len(e.Ambiguous) > 0 {
		b.WriteString(fmt.Sprintf(" (ambiguous: %s)", strings.Join(e.Ambiguous, ", ")))
	}
	if len(e.HintedButMissing) > 0 {
		b.WriteString(fmt.Sprintf(" (mentioned in request: %s)", strings.Join(e.HintedButMissing, ", ")))
	}
	return b.String()
}

func (e *MissingInputsError) Is(target error) bool {
	switch target {
	case ErrMissingRequiredInput:
		return true
	case ErrAmbiguousExtraction:
		return len(e.Ambiguous) > 0
	}
	return false
}

// Package store persists saved workflows and execution traces.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spinje/pflow-sub005/ir"
)

// Sentinel errors for store operations.
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidName = errors.New("invalid workflow name")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

const maxNameLength = 128

// ValidateName checks a saved workflow name.
func ValidateName(name string) error {
	if len(name) > maxNameLength || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (use lowercase letters, digits, '.', '_' or '-')", ErrInvalidName, name)
	}
	return nil
}

// Metadata describes a saved workflow for discovery.
type Metadata struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Keywords     []string  `json:"keywords,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	UseCases     []string  `json:"use_cases,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary is the listing form of a saved workflow.
type Summary struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Keywords     []string  `json:"keywords,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	UseCases     []string  `json:"use_cases,omitempty"`
	Inputs       []string  `json:"inputs,omitempty"`
	Outputs      []string  `json:"outputs,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WorkflowStore saves and loads named workflows.
type WorkflowStore interface {
	List(ctx context.Context) ([]Summary, error)
	Load(ctx context.Context, name string) (*ir.Workflow, error)
	Save(ctx context.Context, name string, wf *ir.Workflow, md Metadata) error
	Delete(ctx context.Context, name string) error
	Metadata(ctx context.Context, name string) (*Metadata, error)
	Close() error
}

// Record is the stored envelope of one workflow.
type Record struct {
	Metadata Metadata     `json:"metadata"`
	Workflow *ir.Workflow `json:"ir"`
}

// Summary derives the listing entry for the record.
func (r *Record) Summary() Summary {
	s := Summary{
		Name:         r.Metadata.Name,
		Description:  r.Metadata.Description,
		Keywords:     r.Metadata.Keywords,
		Capabilities: r.Metadata.Capabilities,
		UseCases:     r.Metadata.UseCases,
		UpdatedAt:    r.Metadata.UpdatedAt,
	}
	if r.Workflow != nil {
		s.Inputs = r.Workflow.InputNames()
		s.Outputs = r.Workflow.OutputNames()
		if s.Description == "" {
			s.Description = r.Workflow.Description
		}
		if len(s.Capabilities) == 0 {
			s.Capabilities = r.Workflow.NodeTypes()
		}
	}
	return s
}

// newRecord prepares a record for saving. prev is the existing record, if any,
// whose id and creation time are kept.
func newRecord(name string, wf *ir.Workflow, md Metadata, prev *Record, now time.Time) (*Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("store: nil workflow for %q", name)
	}
	md.Name = name
	md.UpdatedAt = now.UTC()
	switch {
	case prev != nil:
		md.ID = prev.Metadata.ID
		md.CreatedAt = prev.Metadata.CreatedAt
	default:
		if md.ID == "" {
			md.ID = uuid.NewString()
		}
		if md.CreatedAt.IsZero() {
			md.CreatedAt = md.UpdatedAt
		}
	}
	cp := wf.Clone()
	if cp.Name == "" {
		cp.Name = name
	}
	return &Record{Metadata: md, Workflow: cp}, nil
}

func encodeRecord(r *Record) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode workflow %q: %w", r.Metadata.Name, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode workflow record: %w", err)
	}
	if r.Workflow == nil {
		return nil, errors.New("decode workflow record: missing ir")
	}
	return &r, nil
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool { return s[i].Name < s[j].Name })
}

func notFound(name string) error {
	return fmt.Errorf("workflow %q: %w", name, ErrNotFound)
}

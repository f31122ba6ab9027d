package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spinje/pflow-sub005/executor"
)

// ExecutionRecord is a persisted workflow run.
type ExecutionRecord struct {
	ID        string                `json:"id"`
	Workflow  string                `json:"workflow"`
	Status    string                `json:"status"`
	Inputs    map[string]any        `json:"inputs,omitempty"`
	Outputs   map[string]any        `json:"outputs,omitempty"`
	Error     string                `json:"error,omitempty"`
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration"`
	Steps     []executor.TraceEntry `json:"steps"`
}

// ExecutionFromResult converts an executor result into a record.
func ExecutionFromResult(res *executor.Result) ExecutionRecord {
	return ExecutionRecord{
		ID:        res.ExecutionID,
		Workflow:  res.Workflow,
		Status:    string(res.Status),
		Inputs:    res.Inputs,
		Outputs:   res.Outputs,
		Error:     res.Error,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
		Steps:     res.Trace,
	}
}

// TraceStore persists execution traces.
type TraceStore interface {
	SaveExecution(ctx context.Context, rec ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
}

// SQLiteTraceStore writes executions and their steps to SQLite. It
// implements executor.TraceRecorder.
type SQLiteTraceStore struct {
	db *sql.DB
}

// NewSQLiteTraceStore opens the trace database at dsn.
func NewSQLiteTraceStore(dsn string) (*SQLiteTraceStore, error) {
	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteTraceStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteTraceStore) Close() error {
	return s.db.Close()
}

// RecordExecution persists a finished executor result.
func (s *SQLiteTraceStore) RecordExecution(ctx context.Context, res *executor.Result) error {
	return s.SaveExecution(ctx, ExecutionFromResult(res))
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveExecution writes rec and its steps in one transaction, replacing any
// earlier record with the same id.
func (s *SQLiteTraceStore) SaveExecution(ctx context.Context, rec ExecutionRecord) error {
	inputs, err := marshalJSON(rec.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	outputs, err := marshalJSON(rec.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_steps WHERE execution_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clear steps: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (id, workflow, status, inputs, outputs, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workflow = excluded.workflow,
			status = excluded.status,
			inputs = excluded.inputs,
			outputs = excluded.outputs,
			error = excluded.error,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms
	`, rec.ID, rec.Workflow, rec.Status, inputs, outputs, rec.Error,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	for i, step := range rec.Steps {
		params, err := marshalJSON(step.ResolvedParams)
		if err != nil {
			return fmt.Errorf("encode params of %q: %w", step.NodeID, err)
		}
		output, err := marshalJSON(step.Output)
		if err != nil {
			return fmt.Errorf("encode output of %q: %w", step.NodeID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO execution_steps (execution_id, seq, node_id, capability, params, output, status, error, started_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, i, step.NodeID, step.Capability, params, output, string(step.Status), step.Error,
			step.StartedAt.UTC().Format(time.RFC3339Nano), step.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert step %q: %w", step.NodeID, err)
		}
	}
	return tx.Commit()
}

// GetExecution loads an execution and its steps.
func (s *SQLiteTraceStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	var (
		rec             ExecutionRecord
		inputs, outputs string
		started         string
		durationMs      int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workflow, status, inputs, outputs, error, started_at, duration_ms
		FROM executions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Workflow, &rec.Status, &inputs, &outputs, &rec.Error, &started, &durationMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if err := json.Unmarshal([]byte(inputs), &rec.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &rec.Outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	rec.Duration = time.Duration(durationMs) * time.Millisecond

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, capability, params, output, status, error, started_at, duration_ms
		FROM execution_steps WHERE execution_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()
	rec.Steps = []executor.TraceEntry{}
	for rows.Next() {
		var (
			step           executor.TraceEntry
			params, output string
			status         string
			stepStarted    string
			stepMs         int64
		)
		if err := rows.Scan(&step.NodeID, &step.Capability, &params, &output, &status, &step.Error, &stepStarted, &stepMs); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &step.ResolvedParams); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		if err := json.Unmarshal([]byte(output), &step.Output); err != nil {
			return nil, fmt.Errorf("decode output: %w", err)
		}
		step.Status = executor.Status(status)
		step.StartedAt, _ = time.Parse(time.RFC3339Nano, stepStarted)
		step.Duration = time.Duration(stepMs) * time.Millisecond
		rec.Steps = append(rec.Steps, step)
	}
	return &rec, rows.Err()
}

// ListExecutions returns the most recent executions without their steps.
func (s *SQLiteTraceStore) ListExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow, status, error, started_at, duration_ms
		FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	var out []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var started string
		var ms int64
		if err := rows.Scan(&rec.ID, &rec.Workflow, &rec.Status, &rec.Error, &started, &ms); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

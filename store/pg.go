package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spinje/pflow-sub005/ir"
)

//go:embed migrations/postgres.sql
var pgMigration string

// PGStore keeps workflows in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGStore connects to PostgreSQL and applies the schema migration.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, pgMigration); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PGStore{pool: pool, now: time.Now}, nil
}

// Pool returns the underlying pgxpool.Pool.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) get(ctx context.Context, name string) (*Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var mdData, irData []byte
	err := s.pool.QueryRow(ctx, `SELECT metadata, ir FROM workflows WHERE name = $1`, name).Scan(&mdData, &irData)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("get workflow %q: %w", name, err)
	}
	return scanRecord(name, mdData, irData)
}

func (s *PGStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, metadata, ir FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var name string
		var mdData, irData []byte
		if err := rows.Scan(&name, &mdData, &irData); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		rec, err := scanRecord(name, mdData, irData)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Summary())
	}
	return out, rows.Err()
}

func (s *PGStore) Load(ctx context.Context, name string) (*ir.Workflow, error) {
	rec, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return rec.Workflow, nil
}

func (s *PGStore) Save(ctx context.Context, name string, wf *ir.Workflow, md Metadata) error {
	prev, err := s.get(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	rec, err := newRecord(name, wf, md, prev, s.now())
	if err != nil {
		return err
	}
	mdData, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	irData, err := ir.Marshal(rec.Workflow)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows (name, id, description, metadata, ir, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			metadata = EXCLUDED.metadata,
			ir = EXCLUDED.ir,
			updated_at = EXCLUDED.updated_at`,
		name, rec.Metadata.ID, rec.Metadata.Description, mdData, irData,
		rec.Metadata.CreatedAt, rec.Metadata.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workflow %q: %w", name, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete workflow %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(name)
	}
	return nil
}

func (s *PGStore) Metadata(ctx context.Context, name string) (*Metadata, error) {
	rec, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &rec.Metadata, nil
}

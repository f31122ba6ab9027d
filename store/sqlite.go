package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spinje/pflow-sub005/ir"

	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite.sql
var sqliteMigration string

// openSQLite opens dsn with the pragmas every connection needs and applies
// the schema migration.
func openSQLite(dsn string) (*sql.DB, error) {
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writes and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if dsn == ":memory:" {
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	if _, err := db.Exec(sqliteMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// SQLiteStore keeps workflows in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens the database at dsn. Use ":memory:" for tests.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) get(ctx context.Context, name string) (*Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var mdText, irText string
	err := s.db.QueryRowContext(ctx, `SELECT metadata, ir FROM workflows WHERE name = ?`, name).Scan(&mdText, &irText)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("get workflow %q: %w", name, err)
	}
	return scanRecord(name, []byte(mdText), []byte(irText))
}

func scanRecord(name string, mdData, irData []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(mdData, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("workflow %q: decode metadata: %w", name, err)
	}
	wf, err := ir.Parse(irData)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", name, err)
	}
	rec.Workflow = wf
	return &rec, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, metadata, ir FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var name, mdText, irText string
		if err := rows.Scan(&name, &mdText, &irText); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		rec, err := scanRecord(name, []byte(mdText), []byte(irText))
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Summary())
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (*ir.Workflow, error) {
	rec, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return rec.Workflow, nil
}

func (s *SQLiteStore) Save(ctx context.Context, name string, wf *ir.Workflow, md Metadata) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (name, id, description, metadata, ir, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			metadata = excluded.metadata,
			ir = excluded.ir,
			updated_at = excluded.updated_at
	`, name, rec.Metadata.ID, rec.Metadata.Description, string(mdData), string(irData),
		rec.Metadata.CreatedAt.Format(time.RFC3339Nano), rec.Metadata.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save workflow %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete workflow %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(name)
	}
	return nil
}

func (s *SQLiteStore) Metadata(ctx context.Context, name string) (*Metadata, error) {
	rec, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &rec.Metadata, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/spinje/pflow-sub005/config"
)

// Open creates the workflow store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (WorkflowStore, error) {
	var (
		s   WorkflowStore
		err error
	)
	switch cfg.Backend {
	case "memory":
		s = NewMemoryStore()
	case "", "file":
		s, err = open(NewFileStore(cfg.Dir))
	case "sqlite":
		s, err = open(NewSQLiteStore(cfg.DSN))
	case "postgres":
		s, err = open(NewPGStore(ctx, cfg.DSN))
	case "s3":
		s, err = open(NewS3Store(ctx, cfg.S3))
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s backend: %w", cfg.Backend, err)
	}
	return s, nil
}

func open[S WorkflowStore](s S, err error) (WorkflowStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenTraceStore opens the trace store configured in cfg.Traces, or returns
// nil when trace persistence is disabled.
func OpenTraceStore(cfg config.StoreConfig) (*SQLiteTraceStore, error) {
	if cfg.Traces == "" {
		return nil, nil
	}
	return NewSQLiteTraceStore(cfg.Traces)
}

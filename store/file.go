package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spinje/pflow-sub005/ir"
)

// FileStore keeps one <name>.json envelope per workflow in a directory.
type FileStore struct {
	root   string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewFileStore creates a FileStore rooted at dir. The directory is created if
// it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}
	return &FileStore{root: abs, logger: slog.Default(), now: time.Now}, nil
}

// Root returns the absolute root path.
func (s *FileStore) Root() string { return s.root }

// resolve maps a workflow name to its file, ensuring the result stays within
// the root directory.
func (s *FileStore) resolve(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	abs := filepath.Join(s.root, name+".json")
	if filepath.Dir(abs) != s.root {
		return "", fmt.Errorf("%w: %q escapes storage root", ErrInvalidName, name)
	}
	return abs, nil
}

func (s *FileStore) read(name string) (*Record, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("read workflow %q: %w", name, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", name, err)
	}
	return rec, nil
}

func (s *FileStore) List(_ context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}
	out := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		if ValidateName(name) != nil {
			continue
		}
		rec, err := s.read(name)
		if err != nil {
			s.logger.Warn("Skipping unreadable workflow", "name", name, "error", err)
			continue
		}
		out = append(out, rec.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *FileStore) Load(_ context.Context, name string) (*ir.Workflow, error) {
	rec, err := s.read(name)
	if err != nil {
		return nil, err
	}
	return rec.Workflow, nil
}

func (s *FileStore) Save(_ context.Context, name string, wf *ir.Workflow, md Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	// An unreadable previous record is overwritten.
	prev, _ := s.read(name)
	rec, err := newRecord(name, wf, md, prev, s.now())
	if err != nil {
		return err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(name)
		}
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *FileStore) Metadata(_ context.Context, name string) (*Metadata, error) {
	rec, err := s.read(name)
	if err != nil {
		return nil, err
	}
	return &rec.Metadata, nil
}

func (s *FileStore) Close() error { return nil }

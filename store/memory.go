package store

import (
	"context"
	"sync"
	"time"

	"github.com/spinje/pflow-sub005/ir"
)

// MemoryStore keeps workflows in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Load(_ context.Context, name string) (*ir.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[name]
	if !ok {
		return nil, notFound(name)
	}
	return r.Workflow.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, name string, wf *ir.Workflow, md Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := newRecord(name, wf, md, s.records[name], s.now())
	if err != nil {
		return err
	}
	s.records[name] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; !ok {
		return notFound(name)
	}
	delete(s.records, name)
	return nil
}

func (s *MemoryStore) Metadata(_ context.Context, name string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[name]
	if !ok {
		return nil, notFound(name)
	}
	md := r.Metadata
	return &md, nil
}

func (s *MemoryStore) Close() error { return nil }

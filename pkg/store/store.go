// Package store persists finished pipeline runs. The in-memory
// implementation backs tests and one-shot CLI runs; the Postgres
// implementation backs the service.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrel-eng/feasgen/pkg/pipeline"
)

// ErrNotFound is returned when no run exists under the requested ID.
var ErrNotFound = errors.New("run not found")

// Store persists and retrieves run records. SaveRun satisfies
// pipeline.Sink, so any Store can be handed to the executor directly.
type Store interface {
	SaveRun(ctx context.Context, record *pipeline.RunRecord) error
	GetRun(ctx context.Context, id uuid.UUID) (*pipeline.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*pipeline.RunRecord, error)
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*pipeline.RunRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uuid.UUID]*pipeline.RunRecord)}
}

func (s *MemoryStore) SaveRun(_ context.Context, record *pipeline.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[record.ID] = record
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*pipeline.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]*pipeline.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*pipeline.RunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

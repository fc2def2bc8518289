package repository

import (
	"context"
	"time"

	appErr "codelab/pkg/errors"
)

// MemoryResultStore keeps run records in process, bounded by count and TTL.
type MemoryResultStore struct {
	cache *lruCache[RunRecord]
}

// NewMemoryResultStore creates an in-process store.
func NewMemoryResultStore(maxEntries int, ttl time.Duration) *MemoryResultStore {
	return &MemoryResultStore{cache: newLRUCache[RunRecord](maxEntries, ttl)}
}

func (s *MemoryResultStore) Save(_ context.Context, record RunRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	s.cache.Set(record.RunID, record)
	return nil
}

func (s *MemoryResultStore) Get(_ context.Context, runID string) (RunRecord, error) {
	if runID == "" {
		return RunRecord{}, appErr.ValidationError("run_id", "required")
	}
	record, ok := s.cache.Get(runID)
	if !ok {
		return RunRecord{}, runNotFound(runID)
	}
	return record, nil
}

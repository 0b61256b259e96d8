// Package memory provides storage implementations for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/shopharvest/crawler/internal/records"
)

// RecordStore keeps records in memory.
type RecordStore struct {
	mu   sync.Mutex
	recs []records.Record
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// SaveRecord appends the record.
func (s *RecordStore) SaveRecord(_ context.Context, rec records.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

// Close implements the store interface; it performs no action.
func (s *RecordStore) Close() {}

// Records returns a copy of everything saved so far.
func (s *RecordStore) Records() []records.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]records.Record, len(s.recs))
	copy(out, s.recs)
	return out
}

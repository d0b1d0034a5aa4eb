package memory

import (
	"context"
	"errors"
	"sync"

	"pvhistory/internal/history/domain/record"
)

// RecordStore is an in-memory record store for dry runs and testing.
// Records with the same measurement, tags, field and timestamp overwrite
// each other like points in a time-series store.
type RecordStore struct {
	mu     sync.RWMutex
	data   map[string]record.Record
	writes int
}

// NewRecordStore constructs a store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		data: make(map[string]record.Record),
	}
}

// Write upserts records. Nothing is stored when any record is invalid.
func (s *RecordStore) Write(ctx context.Context, records []record.Record) error {
	_ = ctx
	if s == nil {
		return errors.New("memory record store: nil")
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.data[rec.Key()] = rec
	}
	s.writes++
	return nil
}

// Records returns every stored record ordered by time, then key.
func (s *RecordStore) Records() []record.Record {
	s.mu.RLock()
	out := make([]record.Record, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	record.Sort(out)
	return out
}

// Find returns the stored records of one measurement and field whose tag
// matches the given value, ordered by time.
func (s *RecordStore) Find(measurement, field, tag, value string) []record.Record {
	var out []record.Record
	for _, rec := range s.Records() {
		if rec.Measurement == measurement && rec.Field == field && rec.Tags[tag] == value {
			out = append(out, rec)
		}
	}
	return out
}

// Writes returns the number of successful Write calls.
func (s *RecordStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

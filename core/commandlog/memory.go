package commandlog

import (
	"context"
	"sync"

	"github.com/kilianp07/roamgate/core/model"
)

// MemoryStore keeps the last records in memory.
type MemoryStore struct {
	mu   sync.Mutex
	max  int
	recs []model.CommandRecord
}

// NewMemoryStore keeps at most max records; max <= 0 means 10000.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 10000
	}
	return &MemoryStore{max: max}
}

func (s *MemoryStore) Append(_ context.Context, rec model.CommandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	if len(s.recs) > s.max {
		s.recs = append([]model.CommandRecord(nil), s.recs[len(s.recs)-s.max:]...)
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]model.CommandRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.CommandRecord
	for _, r := range s.recs {
		if q.Match(r) {
			res = append(res, r)
		}
	}
	return limit(res, q.Limit), nil
}

func (s *MemoryStore) Close() error { return nil }

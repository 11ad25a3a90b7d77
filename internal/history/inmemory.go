package history

import (
	"context"
	"sync"
	"time"
)

// InMemorySink is a bounded in-process sink for local/dev use.
type InMemorySink struct {
	mu      sync.RWMutex
	records []Record
	cap     int
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{cap: 1000}
}

func (s *InMemorySink) SaveCall(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}
	s.records = append(s.records, rec)
	if len(s.records) > s.cap {
		s.records = s.records[len(s.records)-s.cap:]
	}
	return nil
}

func (s *InMemorySink) RecentCalls(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= len(s.records)-limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *InMemorySink) Close() error { return nil }

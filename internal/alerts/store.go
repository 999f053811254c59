// Package alerts keeps the most recent push decisions in memory for the API.
package alerts

import (
	"sync"
	"time"

	"hazardguard/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.PushDecision
	limit int
	total uint64
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

// Add appends a decision, evicting the oldest once the store is full.
func (s *Store) Add(d model.PushDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, d)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = d
}

// List returns up to limit decisions, newest last.
func (s *Store) List(limit int) []model.PushDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.PushDecision, limit)
	copy(out, s.buf[len(s.buf)-limit:])
	return out
}

func (s *Store) Since(ts time.Time) []model.PushDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PushDecision, 0)
	for _, d := range s.buf {
		if !d.DecidedAt.Before(ts) {
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) ForLineage(id string) []model.PushDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PushDecision
	for _, d := range s.buf {
		if d.LineageID == id {
			out = append(out, d)
		}
	}
	return out
}

// Total counts every decision ever added, including evicted ones.
func (s *Store) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}

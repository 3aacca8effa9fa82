// Package dpmemstore contains an in-memory [dpstore.RoundStore].
package dpmemstore

import (
	"context"
	"errors"
	"sync"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dpstore"
)

// RoundStore is an in-memory implementation of [dpstore.RoundStore].
// Rounds are immutable values, so they are stored as-is.
type RoundStore struct {
	mu sync.RWMutex

	byNumber map[uint64]dpround.Round
	byID     map[string]uint64

	latest uint64
}

func NewRoundStore() *RoundStore {
	return &RoundStore{
		byNumber: make(map[uint64]dpround.Round),
		byID:     make(map[string]uint64),
	}
}

func (s *RoundStore) SaveRound(_ context.Context, r dpround.Round) error {
	if r.IsZero() {
		return errors.New("cannot save zero round")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byNumber[r.Number()]; ok && old.ID() != r.ID() {
		delete(s.byID, old.ID())
	}
	s.byNumber[r.Number()] = r
	s.byID[r.ID()] = r.Number()
	s.latest = max(s.latest, r.Number())
	return nil
}

func (s *RoundStore) LoadRound(_ context.Context, number uint64) (dpround.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byNumber[number]
	if !ok {
		return dpround.Round{}, dpstore.ErrRoundNotFound
	}
	return r, nil
}

func (s *RoundStore) LoadRoundByID(_ context.Context, id string) (dpround.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.byID[id]
	if !ok {
		return dpround.Round{}, dpstore.ErrRoundNotFound
	}
	return s.byNumber[n], nil
}

func (s *RoundStore) LatestRound(_ context.Context) (dpround.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == 0 {
		return dpround.Round{}, dpstore.ErrRoundNotFound
	}
	return s.byNumber[s.latest], nil
}

func (s *RoundStore) LoadRounds(_ context.Context, from, to uint64) ([]dpround.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []dpround.Round
	for n := from; n <= to && n <= s.latest; n++ {
		if r, ok := s.byNumber[n]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

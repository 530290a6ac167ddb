package rating

import (
	"context"
	"sync"
	"time"
)

// MemStore keeps ratings in memory. Used when no database is attached and in
// tests.
type MemStore struct {
	mu         sync.Mutex
	defaultElo int
	byUser     map[string]*Rating
}

func NewMemStore(defaultElo int) *MemStore {
	return &MemStore{defaultElo: defaultElo, byUser: make(map[string]*Rating)}
}

func (s *MemStore) FindByUserID(_ context.Context, userID string) (*Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byUser[userID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) CreateDefault(_ context.Context, userID string) (*Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byUser[userID]; ok {
		cp := *r
		return &cp, nil
	}
	now := time.Now()
	r := &Rating{UserID: userID, Elo: s.defaultElo, CreatedAt: now, UpdatedAt: now}
	s.byUser[userID] = r
	cp := *r
	return &cp, nil
}

func (s *MemStore) RecordResult(_ context.Context, winnerID, loserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	w := s.byUser[winnerID]
	if w == nil {
		w = &Rating{UserID: winnerID, Elo: s.defaultElo, CreatedAt: now}
		s.byUser[winnerID] = w
	}
	l := s.byUser[loserID]
	if l == nil {
		l = &Rating{UserID: loserID, Elo: s.defaultElo, CreatedAt: now}
		s.byUser[loserID] = l
	}
	d := eloDelta(w.Elo, l.Elo)
	w.Elo += d
	l.Elo -= d
	w.MatchesPlayed++
	l.MatchesPlayed++
	w.Wins++
	l.Losses++
	w.UpdatedAt = now
	l.UpdatedAt = now
	return nil
}

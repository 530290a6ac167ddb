package battle

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ttlMatch     = 24 * time.Hour
	keyDeadlines = "battle:deadlines"
)

func matchKey(id string) string { return "battle:match:" + id }
func submissionKey(matchID, userID string) string {
	return "battle:submission:" + matchID + ":" + userID
}

// Store is the live match and submission state in Redis. All lifecycle
// transitions go through WATCH transactions so that concurrent writers cannot
// both advance the same match.
type Store struct {
	rdb      *redis.Client
	duration time.Duration
}

func NewStore(rdb *redis.Client, battleDuration time.Duration) *Store {
	return &Store{rdb: rdb, duration: battleDuration}
}

func (s *Store) SaveMatch(ctx context.Context, m *Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, matchKey(m.ID), raw, ttlMatch).Err()
}

// GetMatch returns the match, or nil when absent.
func (s *Store) GetMatch(ctx context.Context, id string) (*Match, error) {
	raw, err := s.rdb.Get(ctx, matchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// StartMatch transitions WAITING -> IN_PROGRESS, stamping startedAt and
// registering the expiry deadline. Returns the post-transition match and
// whether this call performed the transition. An already-started match is
// returned unchanged with started=false.
func (s *Store) StartMatch(ctx context.Context, id string) (*Match, bool, error) {
	key := matchKey(id)
	var out *Match
	started := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrMatchNotFound
		}
		if err != nil {
			return err
		}
		var cur Match
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		if cur.Status != StatusWaiting {
			out = &cur
			return nil
		}
		now := time.Now()
		cur.Status = StatusInProgress
		cur.StartedAt = &now
		cur.UpdatedAt = now

		pipe := tx.TxPipeline()
		newRaw, _ := json.Marshal(&cur)
		pipe.Set(ctx, key, newRaw, ttlMatch)
		pipe.ZAdd(ctx, keyDeadlines, redis.Z{
			Score:  float64(now.Add(s.duration).Unix()),
			Member: cur.ID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = &cur
		started = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// a concurrent join won the transition; report current state
		m, gerr := s.GetMatch(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		if m == nil {
			return nil, false, ErrMatchNotFound
		}
		return m, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, started, nil
}

// CreateSubmission claims the (match, user) submission slot with SETNX.
// Returns false when a submission already exists; the existing record is
// never overwritten.
func (s *Store) CreateSubmission(ctx context.Context, sub *Submission) (bool, error) {
	raw, err := json.Marshal(sub)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, submissionKey(sub.MatchID, sub.UserID), raw, ttlMatch).Result()
}

// SaveSubmission overwrites the submission record after judging.
func (s *Store) SaveSubmission(ctx context.Context, sub *Submission) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, submissionKey(sub.MatchID, sub.UserID), raw, ttlMatch).Err()
}

// GetSubmission returns the user's submission for the match, or nil.
func (s *Store) GetSubmission(ctx context.Context, matchID, userID string) (*Submission, error) {
	raw, err := s.rdb.Get(ctx, submissionKey(matchID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CompleteMatch sets the winner iff the match is still IN_PROGRESS. When the
// opponent's passing submission already completed the match this is a silent
// no-op with won=false; the first passing submission wins.
func (s *Store) CompleteMatch(ctx context.Context, matchID, winnerID string) (*Match, bool, error) {
	key := matchKey(matchID)
	for attempt := 0; attempt < 3; attempt++ {
		var out *Match
		won := false
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrMatchNotFound
			}
			if err != nil {
				return err
			}
			var cur Match
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if cur.Status != StatusInProgress {
				out = &cur
				return nil
			}
			now := time.Now()
			cur.Status = StatusCompleted
			cur.WinnerID = winnerID
			cur.EndedAt = &now
			cur.UpdatedAt = now

			pipe := tx.TxPipeline()
			newRaw, _ := json.Marshal(&cur)
			pipe.Set(ctx, key, newRaw, ttlMatch)
			pipe.ZRem(ctx, keyDeadlines, cur.ID)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			out = &cur
			won = true
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent writer touched the match; re-check status
		}
		if err != nil {
			return nil, false, err
		}
		return out, won, nil
	}
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, false, err
	}
	if m == nil {
		return nil, false, ErrMatchNotFound
	}
	return m, false, nil
}

// CancelIfExpired transitions an IN_PROGRESS match past its deadline to
// CANCELLED. Returns cancelled=false when the match already reached a
// terminal state or its deadline has not passed.
func (s *Store) CancelIfExpired(ctx context.Context, matchID string, now time.Time) (*Match, bool, error) {
	key := matchKey(matchID)
	var out *Match
	cancelled := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// match record expired from Redis; drop the deadline entry
			return tx.ZRem(ctx, keyDeadlines, matchID).Err()
		}
		if err != nil {
			return err
		}
		var cur Match
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		if cur.Status != StatusInProgress || cur.StartedAt == nil || now.Before(cur.StartedAt.Add(s.duration)) {
			out = &cur
			if cur.Status != StatusInProgress {
				// terminal matches no longer belong in the deadline index
				_ = tx.ZRem(ctx, keyDeadlines, matchID).Err()
			}
			return nil
		}
		cur.Status = StatusCancelled
		cur.EndedAt = &now
		cur.UpdatedAt = now

		pipe := tx.TxPipeline()
		newRaw, _ := json.Marshal(&cur)
		pipe.Set(ctx, key, newRaw, ttlMatch)
		pipe.ZRem(ctx, keyDeadlines, cur.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = &cur
		cancelled = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, cancelled, nil
}

// DueMatches lists matches whose deadline has passed.
func (s *Store) DueMatches(ctx context.Context, now time.Time) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, keyDeadlines, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
}

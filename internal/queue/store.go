package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyIndex       = "matchmaking:queue"
	keyEntryPrefix = "matchmaking:user:"
)

// Store is the shared membership and rating index for waiting players. The
// rating index is a sorted set scored by Elo; each member also has a per-user
// entry key carrying the full record with a TTL. The entry key is the source
// of truth for membership: an index member whose entry key has expired is
// treated as gone and lazily reaped.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func entryKey(userID string) string { return keyEntryPrefix + userID }

// Add inserts the user into the queue. Returns false when the user is already
// queued; the entry key is claimed with SETNX so check-and-insert is a single
// guarded operation.
func (s *Store) Add(ctx context.Context, userID string, rating int) (bool, error) {
	e := Entry{UserID: userID, Rating: rating, JoinedAt: time.Now().UnixMilli()}
	raw, err := json.Marshal(&e)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.SetNX(ctx, entryKey(userID), raw, s.ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	if err := s.rdb.ZAdd(ctx, keyIndex, redis.Z{Score: float64(rating), Member: userID}).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the user from both the entry key and the rating index.
// Removing an absent user is a no-op.
func (s *Store) Remove(ctx context.Context, userID string) error {
	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, keyIndex, userID)
	pipe.Del(ctx, entryKey(userID))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Contains(ctx context.Context, userID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, entryKey(userID)).Result()
	return n > 0, err
}

// Entry returns the user's queue record, or nil when not queued.
func (s *Store) Entry(ctx context.Context, userID string) (*Entry, error) {
	raw, err := s.rdb.Get(ctx, entryKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) Size(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, keyIndex).Result()
}

// RangeByRating returns the entries of all current members whose rating falls
// in the inclusive range. Index members whose entry key has expired are reaped
// and skipped.
func (s *Store) RangeByRating(ctx context.Context, low, high int) ([]Entry, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, keyIndex, &redis.ZRangeBy{
		Min: formatScore(low),
		Max: formatScore(high),
	}).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := s.Entry(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			// entry expired; reap the stale index member
			_ = s.rdb.ZRem(ctx, keyIndex, id).Err()
			continue
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// RemovePair atomically removes two members. It watches both entry keys, so if
// either user left, expired, or was paired by a concurrent matchmaking attempt
// the transaction fails and false is returned. This is the serialization point
// between racing pairing attempts: exactly one caller wins a given pair.
func (s *Store) RemovePair(ctx context.Context, userA, userB string) (bool, error) {
	keyA, keyB := entryKey(userA), entryKey(userB)
	removed := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keyA, keyB).Result()
		if err != nil {
			return err
		}
		if n != 2 {
			return nil // one of them is gone; not an error, just lost
		}
		pipe := tx.TxPipeline()
		pipe.Del(ctx, keyA, keyB)
		pipe.ZRem(ctx, keyIndex, userA, userB)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		removed = true
		return nil
	}, keyA, keyB)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return removed, nil
}

func formatScore(v int) string {
	return strconv.Itoa(v)
}

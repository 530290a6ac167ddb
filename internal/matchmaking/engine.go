package matchmaking

import (
	"context"
	"math/rand"

	"github.com/leagueofcoding/arena/internal/battle"
	"github.com/leagueofcoding/arena/internal/notify"
	"github.com/leagueofcoding/arena/internal/obslog"
	"github.com/leagueofcoding/arena/internal/problem"
	"github.com/leagueofcoding/arena/internal/queue"
	"github.com/leagueofcoding/arena/internal/rating"
	"go.uber.org/zap"
)

// ErrNoProblems means the problem catalog is empty. Pairing cannot proceed;
// this is a deployment misconfiguration, not a user error.
var ErrNoProblems = errNoProblems("no problems available for matching")

type errNoProblems string

func (e errNoProblems) Error() string { return string(e) }

// Engine turns queue membership into paired matches. Pairing runs
// synchronously after every successful join rather than on a global scheduler
// tick, so two near-simultaneous joins can discover each other; the queue
// store's atomic pair removal decides which attempt wins.
type Engine struct {
	store      *queue.Store
	ratings    rating.Store
	problems   problem.Catalog
	battles    *battle.Manager
	dispatcher *notify.Dispatcher
	tolerance  int
}

func NewEngine(store *queue.Store, ratings rating.Store, problems problem.Catalog, battles *battle.Manager, dispatcher *notify.Dispatcher, tolerance int) *Engine {
	return &Engine{
		store:      store,
		ratings:    ratings,
		problems:   problems,
		battles:    battles,
		dispatcher: dispatcher,
		tolerance:  tolerance,
	}
}

// JoinQueue adds the user to the waiting queue and immediately attempts
// pairing. Returns false without error when the user is already queued.
// A non-nil error after joined=true means pairing hit a fatal setup problem
// (empty problem catalog).
func (e *Engine) JoinQueue(ctx context.Context, userID string) (bool, error) {
	in, err := e.store.Contains(ctx, userID)
	if err != nil {
		return false, err
	}
	if in {
		obslog.L().Warn("queue_join_dup", zap.String("user_id", userID))
		return false, nil
	}

	r, err := e.ratings.FindByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	if r == nil {
		if r, err = e.ratings.CreateDefault(ctx, userID); err != nil {
			return false, err
		}
	}

	added, err := e.store.Add(ctx, userID, r.Elo)
	if err != nil {
		return false, err
	}
	if !added {
		// a concurrent join claimed the entry between the check and the insert
		return false, nil
	}
	obslog.L().Info("queue_join", zap.String("user_id", userID), zap.Int("rating", r.Elo))

	return true, e.tryPair(ctx, userID, r.Elo)
}

// LeaveQueue removes the user; leaving while not queued is a no-op.
func (e *Engine) LeaveQueue(ctx context.Context, userID string) error {
	if err := e.store.Remove(ctx, userID); err != nil {
		return err
	}
	obslog.L().Info("queue_leave", zap.String("user_id", userID))
	return nil
}

func (e *Engine) IsInQueue(ctx context.Context, userID string) (bool, error) {
	return e.store.Contains(ctx, userID)
}

func (e *Engine) QueueSize(ctx context.Context) (int64, error) {
	return e.store.Size(ctx)
}

// tryPair selects the closest-rated waiting opponent within the tolerance
// band and, if the pair can be atomically claimed, creates the match.
func (e *Engine) tryPair(ctx context.Context, userID string, userRating int) error {
	candidates, err := e.store.RangeByRating(ctx, userRating-e.tolerance, userRating+e.tolerance)
	if err != nil {
		return err
	}
	if len(candidates) < 2 {
		obslog.L().Debug("pairing_skip", zap.String("user_id", userID), zap.Int("in_range", len(candidates)))
		return nil
	}

	opponent := pickOpponent(candidates, userID, userRating)
	if opponent == nil {
		return nil
	}

	// Resolve the problem before touching the queue so an empty catalog
	// fails without losing either player's queue entry.
	problemID, err := e.pickProblem(ctx)
	if err != nil {
		obslog.L().Error("pairing_no_problems", zap.String("user_id", userID))
		return err
	}

	claimed, err := e.store.RemovePair(ctx, userID, opponent.UserID)
	if err != nil {
		return err
	}
	if !claimed {
		// the opponent left, expired, or was paired by a racing attempt
		obslog.L().Debug("pairing_lost_race",
			zap.String("user_id", userID),
			zap.String("opponent_id", opponent.UserID),
		)
		return nil
	}

	match, err := e.battles.CreateMatch(ctx, userID, opponent.UserID, problemID)
	if err != nil {
		return err
	}
	obslog.L().Info("match_paired",
		zap.String("match_id", match.ID),
		zap.String("player1_id", userID),
		zap.String("player2_id", opponent.UserID),
		zap.Int("rating_diff", absInt(userRating-opponent.Rating)),
	)

	e.dispatcher.MatchFound(match.Player1ID, match.Player2ID, match.ID)
	return nil
}

// pickOpponent returns the candidate with the smallest absolute rating
// difference, excluding the joining user. Ties go to the earliest-joined
// candidate so the outcome is deterministic.
func pickOpponent(candidates []queue.Entry, userID string, userRating int) *queue.Entry {
	var best *queue.Entry
	bestDiff := 0
	for i := range candidates {
		c := &candidates[i]
		if c.UserID == userID {
			continue
		}
		diff := absInt(userRating - c.Rating)
		if best == nil || diff < bestDiff || (diff == bestDiff && c.JoinedAt < best.JoinedAt) {
			best = c
			bestDiff = diff
		}
	}
	return best
}

func (e *Engine) pickProblem(ctx context.Context) (string, error) {
	ids, err := e.problems.ListAllIDs(ctx)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", ErrNoProblems
	}
	return ids[rand.Intn(len(ids))], nil
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

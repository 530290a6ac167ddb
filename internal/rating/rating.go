package rating

import (
	"context"
	"math"
	"time"
)

// Rating is a player's skill record. New players start at the default Elo.
type Rating struct {
	UserID        string    `json:"user_id"`
	Elo           int       `json:"elo"`
	MatchesPlayed int       `json:"matches_played"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store is the persistence contract for player ratings.
type Store interface {
	// FindByUserID returns the rating, or nil when the user has none yet.
	FindByUserID(ctx context.Context, userID string) (*Rating, error)
	// CreateDefault creates and returns a fresh rating at the default Elo.
	CreateDefault(ctx context.Context, userID string) (*Rating, error)
	// RecordResult applies a match outcome to both players' ratings.
	RecordResult(ctx context.Context, winnerID, loserID string) error
}

const kFactor = 32

// eloDelta returns the winner's rating gain for a win against loser.
func eloDelta(winnerElo, loserElo int) int {
	expected := 1.0 / (1.0 + math.Pow(10, (float64(loserElo)-float64(winnerElo))/400.0))
	d := int(kFactor * (1.0 - expected))
	if d < 1 {
		d = 1
	}
	return d
}

package rating

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists ratings in the user_ratings table.
type PostgresStore struct {
	db         *sql.DB
	defaultElo int
}

func NewPostgresStore(databaseURL string, defaultElo int) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, defaultElo: defaultElo}, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB, defaultElo int) *PostgresStore {
	return &PostgresStore{db: db, defaultElo: defaultElo}
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) FindByUserID(ctx context.Context, userID string) (*Rating, error) {
	q := `SELECT user_id, elo_rating, matches_played, wins, losses, created_at, updated_at
	        FROM user_ratings WHERE user_id = $1`
	var r Rating
	err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&r.UserID, &r.Elo, &r.MatchesPlayed, &r.Wins, &r.Losses, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateDefault(ctx context.Context, userID string) (*Rating, error) {
	now := time.Now()
	q := `INSERT INTO user_ratings (user_id, elo_rating, matches_played, wins, losses, created_at, updated_at)
	      VALUES ($1,$2,0,0,0,$3,$3)
	      ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, userID, s.defaultElo, now); err != nil {
		return nil, err
	}
	// Reread in case a concurrent insert won.
	r, err := s.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("rating for %s missing after insert", userID)
	}
	return r, nil
}

func (s *PostgresStore) RecordResult(ctx context.Context, winnerID, loserID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	readElo := func(userID string) (int, error) {
		var elo int
		err := tx.QueryRowContext(ctx,
			`SELECT elo_rating FROM user_ratings WHERE user_id = $1 FOR UPDATE`, userID).Scan(&elo)
		if errors.Is(err, sql.ErrNoRows) {
			_, ierr := tx.ExecContext(ctx,
				`INSERT INTO user_ratings (user_id, elo_rating, matches_played, wins, losses, created_at, updated_at)
				 VALUES ($1,$2,0,0,0,now(),now())`, userID, s.defaultElo)
			return s.defaultElo, ierr
		}
		return elo, err
	}

	winnerElo, err := readElo(winnerID)
	if err != nil {
		return err
	}
	loserElo, err := readElo(loserID)
	if err != nil {
		return err
	}

	d := eloDelta(winnerElo, loserElo)
	if _, err := tx.ExecContext(ctx,
		`UPDATE user_ratings SET elo_rating = elo_rating + $2, matches_played = matches_played + 1,
		        wins = wins + 1, updated_at = now() WHERE user_id = $1`, winnerID, d); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE user_ratings SET elo_rating = elo_rating - $2, matches_played = matches_played + 1,
		        losses = losses + 1, updated_at = now() WHERE user_id = $1`, loserID, d); err != nil {
		return err
	}
	return tx.Commit()
}

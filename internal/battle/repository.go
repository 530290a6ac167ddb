package battle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository archives terminal matches and their submissions to Postgres.
// Live state stays in Redis; this is the durable record.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
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
	return &Repository{db: db}, nil
}

// NewRepositoryFromDB wraps an existing connection pool.
func NewRepositoryFromDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveMatch upserts a terminal match and its submissions.
func (r *Repository) SaveMatch(ctx context.Context, m *Match, subs []*Submission) error {
	if r == nil || r.db == nil || m == nil {
		return nil
	}

	q := `INSERT INTO matches (
	        id, player1_id, player2_id, problem_id, status, winner_id,
	        started_at, ended_at, created_at, updated_at
	      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	      ON CONFLICT (id) DO UPDATE SET
	        status=EXCLUDED.status,
	        winner_id=EXCLUDED.winner_id,
	        started_at=EXCLUDED.started_at,
	        ended_at=EXCLUDED.ended_at,
	        updated_at=EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, q,
		m.ID, m.Player1ID, m.Player2ID, m.ProblemID, string(m.Status), nullStr(m.WinnerID),
		nullTime(m.StartedAt), nullTime(m.EndedAt), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		sq := `INSERT INTO match_submissions (
		         id, match_id, user_id, code, language, status,
		         execution_time_ms, memory_used_kb, test_cases_passed, test_cases_total,
		         submitted_at, judged_at
		       ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		       ON CONFLICT (match_id, user_id) DO UPDATE SET
		         status=EXCLUDED.status,
		         execution_time_ms=EXCLUDED.execution_time_ms,
		         memory_used_kb=EXCLUDED.memory_used_kb,
		         test_cases_passed=EXCLUDED.test_cases_passed,
		         test_cases_total=EXCLUDED.test_cases_total,
		         judged_at=EXCLUDED.judged_at`
		if _, err := r.db.ExecContext(ctx, sq,
			sub.ID, sub.MatchID, sub.UserID, sub.Code, sub.Language, string(sub.Status),
			sub.ExecutionTimeMs, sub.MemoryUsedKb, sub.TestCasesPassed, sub.TestCasesTotal,
			sub.SubmittedAt, nullTime(sub.JudgedAt),
		); err != nil {
			return err
		}
	}
	return nil
}

func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

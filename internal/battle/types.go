package battle

import (
	"strings"
	"time"
)

// Status is the match lifecycle state. Transitions are monotonic:
// WAITING -> IN_PROGRESS -> COMPLETED | CANCELLED.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// SubmissionStatus is a submission's judging state.
type SubmissionStatus string

const (
	SubmissionPending SubmissionStatus = "PENDING"
	SubmissionPassed  SubmissionStatus = "PASSED"
	SubmissionFailed  SubmissionStatus = "FAILED"
	SubmissionError   SubmissionStatus = "ERROR"
)

// Match is the live state of a 1v1 battle, stored as JSON in Redis.
type Match struct {
	ID        string     `json:"id"`
	Player1ID string     `json:"player1_id"`
	Player2ID string     `json:"player2_id"`
	ProblemID string     `json:"problem_id"`
	Status    Status     `json:"status"`
	WinnerID  string     `json:"winner_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (m *Match) IsParticipant(userID string) bool {
	return m.Player1ID == userID || m.Player2ID == userID
}

func (m *Match) OpponentOf(userID string) string {
	if m.Player1ID == userID {
		return m.Player2ID
	}
	if m.Player2ID == userID {
		return m.Player1ID
	}
	return ""
}

// Submission is one player's code submission for a match. At most one exists
// per (match, user); a second submit attempt is rejected, never overwritten.
type Submission struct {
	ID              string           `json:"id"`
	MatchID         string           `json:"match_id"`
	UserID          string           `json:"user_id"`
	Code            string           `json:"code"`
	Language        string           `json:"language"`
	Status          SubmissionStatus `json:"status"`
	ExecutionTimeMs int              `json:"execution_time_ms"`
	MemoryUsedKb    int              `json:"memory_used_kb"`
	TestCasesPassed int              `json:"test_cases_passed"`
	TestCasesTotal  int              `json:"test_cases_total"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	JudgedAt        *time.Time       `json:"judged_at,omitempty"`
}

// Details is the read-only battle view returned to participants.
type Details struct {
	Match                *Match `json:"match"`
	Player1Submitted     bool   `json:"player1Submitted"`
	Player2Submitted     bool   `json:"player2Submitted"`
	TimeRemainingSeconds int64  `json:"timeRemaining"`
}

var supportedLanguages = map[string]struct{}{
	"JAVA":       {},
	"PYTHON":     {},
	"CPP":        {},
	"JAVASCRIPT": {},
}

// ValidLanguage reports whether the submission language is supported.
func ValidLanguage(lang string) bool {
	_, ok := supportedLanguages[strings.ToUpper(strings.TrimSpace(lang))]
	return ok
}

// Errors
var (
	ErrMatchNotFound      = errf("match not found")
	ErrNotParticipant     = errf("user not in this match")
	ErrMatchNotInProgress = errf("match not in progress")
	ErrAlreadySubmitted   = errf("already submitted")
	ErrInvalidLanguage    = errf("unsupported language")
	ErrSamePlayer         = errf("players must differ")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

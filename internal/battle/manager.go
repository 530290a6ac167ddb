package battle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leagueofcoding/arena/internal/judge"
	"github.com/leagueofcoding/arena/internal/notify"
	"github.com/leagueofcoding/arena/internal/obslog"
	"github.com/leagueofcoding/arena/internal/rating"
	"go.uber.org/zap"
)

// Manager owns the match lifecycle: creation, start, submission intake,
// judging, winner determination and expiry. It is the only writer of Match and
// Submission state.
type Manager struct {
	store      *Store
	judge      judge.Judge
	dispatcher *notify.Dispatcher
	ratings    rating.Store
	archive    *Repository
	duration   time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewManager(store *Store, j judge.Judge, dispatcher *notify.Dispatcher, ratings rating.Store, battleDuration time.Duration) *Manager {
	return &Manager{
		store:      store,
		judge:      j,
		dispatcher: dispatcher,
		ratings:    ratings,
		duration:   battleDuration,
		stopCh:     make(chan struct{}),
	}
}

// AttachArchive wires a database repository for persisting terminal matches.
func (m *Manager) AttachArchive(r *Repository) {
	if m != nil {
		m.archive = r
	}
}

// CreateMatch creates a WAITING match between two distinct players.
func (m *Manager) CreateMatch(ctx context.Context, player1ID, player2ID, problemID string) (*Match, error) {
	if player1ID == player2ID {
		return nil, ErrSamePlayer
	}
	now := time.Now()
	match := &Match{
		ID:        uuid.NewString(),
		Player1ID: player1ID,
		Player2ID: player2ID,
		ProblemID: problemID,
		Status:    StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.SaveMatch(ctx, match); err != nil {
		return nil, err
	}
	obslog.L().Info("match_create",
		zap.String("match_id", match.ID),
		zap.String("player1_id", player1ID),
		zap.String("player2_id", player2ID),
		zap.String("problem_id", problemID),
	)
	return match, nil
}

// JoinMatch lets a participant enter the battle room. The first join starts
// the match and notifies both players; later joins are idempotent and do not
// re-notify.
func (m *Manager) JoinMatch(ctx context.Context, matchID, userID string) (*Match, error) {
	match, err := m.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}
	if !match.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if match.Status != StatusWaiting {
		return match, nil
	}

	match, started, err := m.store.StartMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if started {
		obslog.L().Info("match_start", zap.String("match_id", matchID))
		m.dispatcher.MatchStarted(match.Player1ID, match.Player2ID, match.ID, *match.StartedAt, m.duration)
	}
	return match, nil
}

// SubmitCode records exactly one submission per player, notifies the opponent
// and judges synchronously. A passing verdict attempts winner determination.
func (m *Manager) SubmitCode(ctx context.Context, matchID, userID, code, language string) (*Submission, error) {
	if !ValidLanguage(language) {
		return nil, ErrInvalidLanguage
	}
	match, err := m.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}
	if match.Status != StatusInProgress {
		return nil, ErrMatchNotInProgress
	}
	if !match.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}

	sub := &Submission{
		ID:          uuid.NewString(),
		MatchID:     matchID,
		UserID:      userID,
		Code:        code,
		Language:    language,
		Status:      SubmissionPending,
		SubmittedAt: time.Now(),
	}
	created, err := m.store.CreateSubmission(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAlreadySubmitted
	}
	obslog.L().Info("submission_create",
		zap.String("match_id", matchID),
		zap.String("user_id", userID),
		zap.String("language", language),
	)

	m.dispatcher.OpponentSubmitted(match.OpponentOf(userID), matchID, userID)

	m.judgeSubmission(ctx, match, sub)
	return sub, nil
}

// judgeSubmission runs the judge and applies the verdict. Judge failures map
// to a submission status of ERROR; they never reach the submitting user.
func (m *Manager) judgeSubmission(ctx context.Context, match *Match, sub *Submission) {
	verdict := m.evaluate(ctx, match, sub)

	now := time.Now()
	sub.Status = SubmissionStatus(verdict.Status)
	sub.TestCasesPassed = verdict.TestCasesPassed
	sub.TestCasesTotal = verdict.TestCasesTotal
	sub.ExecutionTimeMs = verdict.ExecutionTimeMs
	sub.MemoryUsedKb = verdict.MemoryUsedKb
	sub.JudgedAt = &now
	if err := m.store.SaveSubmission(ctx, sub); err != nil {
		obslog.L().Error("submission_save_error", zap.String("submission_id", sub.ID), zap.Error(err))
		return
	}
	obslog.L().Info("submission_judged",
		zap.String("submission_id", sub.ID),
		zap.String("status", string(sub.Status)),
		zap.Int("passed", sub.TestCasesPassed),
		zap.Int("total", sub.TestCasesTotal),
	)

	if sub.Status == SubmissionPassed {
		m.determineWinner(ctx, sub.MatchID, sub.UserID)
	}
}

func (m *Manager) evaluate(ctx context.Context, match *Match, sub *Submission) (verdict judge.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("judge_panic", zap.String("submission_id", sub.ID), zap.Any("panic", r))
			verdict = judge.Verdict{Status: judge.VerdictError}
		}
	}()
	v, err := m.judge.Evaluate(ctx, judge.Request{
		MatchID:   sub.MatchID,
		UserID:    sub.UserID,
		ProblemID: match.ProblemID,
		Code:      sub.Code,
		Language:  sub.Language,
	})
	if err != nil || v == nil {
		obslog.L().Error("judge_error", zap.String("submission_id", sub.ID), zap.Error(err))
		return judge.Verdict{Status: judge.VerdictError}
	}
	return *v
}

// determineWinner completes the match for userID iff it is still IN_PROGRESS.
// When the opponent won first this is a silent no-op.
func (m *Manager) determineWinner(ctx context.Context, matchID, userID string) {
	match, won, err := m.store.CompleteMatch(ctx, matchID, userID)
	if err != nil {
		obslog.L().Error("winner_set_error", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	if !won {
		return
	}
	obslog.L().Info("winner_set", zap.String("match_id", matchID), zap.String("winner_id", userID))

	m.dispatcher.MatchEnded(match.Player1ID, match.Player2ID, match.ID, match.WinnerID, *match.EndedAt)

	loserID := match.OpponentOf(userID)
	if err := m.ratings.RecordResult(ctx, userID, loserID); err != nil {
		obslog.L().Error("rating_record_error", zap.String("match_id", matchID), zap.Error(err))
	}
	m.archiveMatch(ctx, match)
}

// GetMatchDetails is the read-only battle view for a participant.
func (m *Manager) GetMatchDetails(ctx context.Context, matchID, userID string) (*Details, error) {
	match, err := m.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}
	if !match.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}

	sub1, err := m.store.GetSubmission(ctx, matchID, match.Player1ID)
	if err != nil {
		return nil, err
	}
	sub2, err := m.store.GetSubmission(ctx, matchID, match.Player2ID)
	if err != nil {
		return nil, err
	}

	return &Details{
		Match:                match,
		Player1Submitted:     sub1 != nil,
		Player2Submitted:     sub2 != nil,
		TimeRemainingSeconds: m.timeRemaining(match, time.Now()),
	}, nil
}

func (m *Manager) timeRemaining(match *Match, now time.Time) int64 {
	if match.Status != StatusInProgress || match.StartedAt == nil {
		return 0
	}
	remaining := int64(match.StartedAt.Add(m.duration).Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Sweep cancels IN_PROGRESS matches whose duration elapsed. Both players get
// a MATCH_ENDED event with no winner.
func (m *Manager) Sweep(ctx context.Context) {
	now := time.Now()
	due, err := m.store.DueMatches(ctx, now)
	if err != nil {
		obslog.L().Error("sweep_list_error", zap.Error(err))
		return
	}
	for _, matchID := range due {
		match, cancelled, err := m.store.CancelIfExpired(ctx, matchID, now)
		if err != nil {
			obslog.L().Error("sweep_cancel_error", zap.String("match_id", matchID), zap.Error(err))
			continue
		}
		if !cancelled {
			continue
		}
		obslog.L().Info("match_expired", zap.String("match_id", matchID))
		m.dispatcher.MatchEnded(match.Player1ID, match.Player2ID, match.ID, "", *match.EndedAt)
		m.archiveMatch(ctx, match)
	}
}

// StartSweeper runs Sweep on the given interval until StopSweeper.
func (m *Manager) StartSweeper(interval time.Duration) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
	obslog.L().Info("sweeper_start", zap.Duration("interval", interval))
}

func (m *Manager) StopSweeper() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()
	close(m.stopCh)
	m.wg.Wait()
	obslog.L().Info("sweeper_stop")
}

// archiveMatch persists a terminal match to the database if a repository is
// attached. Best effort: archive failures never affect live state.
func (m *Manager) archiveMatch(ctx context.Context, match *Match) {
	if m.archive == nil {
		return
	}
	subs := make([]*Submission, 0, 2)
	for _, pid := range []string{match.Player1ID, match.Player2ID} {
		sub, err := m.store.GetSubmission(ctx, match.ID, pid)
		if err == nil && sub != nil {
			subs = append(subs, sub)
		}
	}
	if err := m.archive.SaveMatch(ctx, match, subs); err != nil {
		obslog.L().Error("match_archive_error", zap.String("match_id", match.ID), zap.Error(err))
		return
	}
	obslog.L().Info("match_archive", zap.String("match_id", match.ID), zap.String("status", string(match.Status)))
}

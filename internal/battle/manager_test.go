package battle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/leagueofcoding/arena/internal/judge"
	"github.com/leagueofcoding/arena/internal/msgcat"
	"github.com/leagueofcoding/arena/internal/notify"
	"github.com/leagueofcoding/arena/internal/presence"
	"github.com/leagueofcoding/arena/internal/rating"
	"github.com/redis/go-redis/v9"
)

type fakeTransport struct {
	mu     sync.Mutex
	toUser map[string][]any
}

func (f *fakeTransport) SendToUser(userID string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toUser == nil {
		f.toUser = make(map[string][]any)
	}
	f.toUser[userID] = append(f.toUser[userID], payload)
	return nil
}

func (f *fakeTransport) Broadcast(any) error { return nil }

func (f *fakeTransport) eventsFor(userID string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.toUser[userID]...)
}

type erroringJudge struct{}

func (erroringJudge) Evaluate(context.Context, judge.Request) (*judge.Verdict, error) {
	return nil, errors.New("executor unavailable")
}

func newTestManager(t *testing.T, j judge.Judge, duration time.Duration) (*Manager, *Store, *rating.MemStore, *fakeTransport, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	messages, err := msgcat.New("")
	if err != nil {
		mr.Close()
		t.Fatalf("msgcat: %v", err)
	}
	tr := &fakeTransport{}
	dispatcher := notify.NewDispatcher(tr, presence.NewTracker(), messages)
	ratings := rating.NewMemStore(1200)
	store := NewStore(rdb, duration)
	m := NewManager(store, j, dispatcher, ratings, duration)
	return m, store, ratings, tr, func() { mr.Close() }
}

func TestJoinStartsMatchOnce(t *testing.T) {
	m, _, _, tr, cleanup := newTestManager(t, judge.NewStubJudge(), 15*time.Minute)
	defer cleanup()
	ctx := context.Background()

	match, err := m.CreateMatch(ctx, "p1", "p2", "two-sum")
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if match.Status != StatusWaiting {
		t.Fatalf("new match should be WAITING, got %s", match.Status)
	}

	got, err := m.JoinMatch(ctx, match.ID, "p1")
	if err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	if got.Status != StatusInProgress || got.StartedAt == nil {
		t.Fatalf("first join must start the match: %+v", got)
	}
	startedAt := *got.StartedAt

	// second participant joins an already-running match
	again, err := m.JoinMatch(ctx, match.ID, "p2")
	if err != nil {
		t.Fatalf("JoinMatch p2: %v", err)
	}
	if again.Status != StatusInProgress || !again.StartedAt.Equal(startedAt) {
		t.Fatalf("later joins must not restart the match: %+v", again)
	}

	// MATCH_STARTED went to both players exactly once
	for _, uid := range []string{"p1", "p2"} {
		n := 0
		for _, ev := range tr.eventsFor(uid) {
			if _, ok := ev.(notify.MatchStartedEvent); ok {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("%s: expected 1 MATCH_STARTED, got %d", uid, n)
		}
	}
}

func TestJoinMatchGuards(t *testing.T) {
	m, _, _, _, cleanup := newTestManager(t, judge.NewStubJudge(), 15*time.Minute)
	defer cleanup()
	ctx := context.Background()

	if _, err := m.JoinMatch(ctx, "missing", "p1"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}

	match, _ := m.CreateMatch(ctx, "p1", "p2", "two-sum")
	if _, err := m.JoinMatch(ctx, match.ID, "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	if _, err := m.CreateMatch(ctx, "p1", "p1", "two-sum"); !errors.Is(err, ErrSamePlayer) {
		t.Fatalf("expected ErrSamePlayer, got %v", err)
	}
}

func TestPassingSubmissionWins(t *testing.T) {
	m, store, ratings, tr, cleanup := newTestManager(t, &judge.StubJudge{PassRate: 1}, 15*time.Minute)
	defer cleanup()
	ctx := context.Background()

	match, _ := m.CreateMatch(ctx, "p1", "p2", "two-sum")
	m.JoinMatch(ctx, match.ID, "p1")

	sub, err := m.SubmitCode(ctx, match.ID, "p1", "return a+b;", "JAVA")
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if sub.Status != SubmissionPassed || sub.TestCasesPassed != sub.TestCasesTotal {
		t.Fatalf("expected a full pass, got %+v", sub)
	}
	if sub.JudgedAt == nil {
		t.Fatalf("judgedAt must be stamped")
	}

	after, _ := store.GetMatch(ctx, match.ID)
	if after.Status != StatusCompleted || after.WinnerID != "p1" || after.EndedAt == nil {
		t.Fatalf("match should be completed by p1: %+v", after)
	}

	// loser cannot submit into a finished match
	if _, err := m.SubmitCode(ctx, match.ID, "p2", "x", "PYTHON"); !errors.Is(err, ErrMatchNotInProgress) {
		t.Fatalf("expected ErrMatchNotInProgress, got %v", err)
	}

	// both players got MATCH_ENDED with the winner
	ended := false
	for _, ev := range tr.eventsFor("p2") {
		if e, ok := ev.(notify.MatchEndedEvent); ok && e.WinnerID == "p1" {
			ended = true
		}
	}
	if !ended {
		t.Fatalf("p2 did not receive MATCH_ENDED")
	}

	// ratings moved
	w, _ := ratings.FindByUserID(ctx, "p1")
	l, _ := ratings.FindByUserID(ctx, "p2")
	if w == nil || l == nil || w.Wins != 1 || l.Losses != 1 || w.Elo <= l.Elo {
		t.Fatalf("ratings not recorded: winner=%+v loser=%+v", w, l)
	}
}

func TestSubmitGuards(t *testing.T) {
	m, _, _, _, cleanup := newTestManager(t, &judge.StubJudge{PassRate: 0}, 15*time.Minute)
	defer cleanup()
	ctx := context.Background()

	match, _ := m.CreateMatch(ctx, "p1", "p2", "two-sum")

	if _, err := m.SubmitCode(ctx, match.ID, "p1", "x", "BRAINFUCK"); !errors.Is(err, ErrInvalidLanguage) {
		t.Fatalf("expected ErrInvalidLanguage, got %v", err)
	}
	// match has not started yet
	if _, err := m.SubmitCode(ctx, match.ID, "p1", "x", "JAVA"); !errors.Is(err, ErrMatchNotInProgress) {
		t.Fatalf("expected ErrMatchNotInProgress, got %v", err)
	}

	m.JoinMatch(ctx, match.ID, "p1")
	if _, err := m.SubmitCode(ctx, match.ID, "stranger", "x", "JAVA"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	sub, err := m.SubmitCode(ctx, match.ID, "p1", "x", "CPP")
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if sub.Status != SubmissionFailed {
		t.Fatalf("zero pass rate must fail, got %s", sub.Status)
	}

	// one submission per player, ever
	if _, err := m.SubmitCode(ctx, match.ID, "p1", "y", "CPP"); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestFirstPassWinsSecondCompleteIsNoOp(t *testing.T) {
	m, store, _, _, cleanup := newTestManager(t, &judge.StubJudge{PassRate: 1}, 15*time.Minute)
	defer cleanup()
	ctx := context.Background()

	match, _ := m.CreateMatch(ctx, "p1", "p2", "two-sum")
	m.JoinMatch(ctx, match.ID, "p1")

	_, won, err := store.CompleteMatch(ctx, match.ID, "p1")
	if err != nil || !won {
		t.Fatalf("CompleteMatch p1: won=%v err=%v", won, err)
	}
	got, won, err := store.CompleteMatch(ctx, match.ID, "p2")
	if err != nil {
		t.Fatalf("CompleteMatch p2: %v", err)
	}
	if won || got.WinnerID != "p1" {
		t.Fatalf("winner must not change once set: won=%v match=%+v", won, got)
	}
}

func TestJudgeFailureMapsToError(t *testing.T) {
	m, store, _, _, cleanup := newTestManager(t, erroringJudge{}, 15*time.Minute)
	defer cleanup()
	ctx := context.Background()

	match, _ := m.CreateMatch(ctx, "p1", "p2", "two-sum")
	m.JoinMatch(ctx, match.ID, "p1")

	sub, err := m.SubmitCode(ctx, match.ID, "p1", "x", "JAVASCRIPT")
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if sub.Status != SubmissionError {
		t.Fatalf("judge failure must yield ERROR, got %s", sub.Status)
	}
	after, _ := store.GetMatch(ctx, match.ID)
	if after.Status != StatusInProgress {
		t.Fatalf("an ERROR verdict must not end the match: %s", after.Status)
	}
}

func TestMatchDetails(t *testing.T) {
	m, store, _, _, cleanup := newTestManager(t, &judge.StubJudge{PassRate: 0}, 15*time.Minute)
	defer cleanup()
	ctx := context.Background()

	match, _ := m.CreateMatch(ctx, "p1", "p2", "two-sum")

	if _, err := m.GetMatchDetails(ctx, match.ID, "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	d, err := m.GetMatchDetails(ctx, match.ID, "p1")
	if err != nil {
		t.Fatalf("GetMatchDetails: %v", err)
	}
	if d.TimeRemainingSeconds != 0 {
		t.Fatalf("WAITING match has no clock, got %d", d.TimeRemainingSeconds)
	}

	m.JoinMatch(ctx, match.ID, "p1")
	m.SubmitCode(ctx, match.ID, "p1", "x", "JAVA")

	// pretend 14 of the 15 minutes already elapsed
	cur, _ := store.GetMatch(ctx, match.ID)
	past := time.Now().Add(-14 * time.Minute)
	cur.StartedAt = &past
	if err := store.SaveMatch(ctx, cur); err != nil {
		t.Fatalf("SaveMatch: %v", err)
	}

	d, err = m.GetMatchDetails(ctx, match.ID, "p2")
	if err != nil {
		t.Fatalf("GetMatchDetails: %v", err)
	}
	if !d.Player1Submitted || d.Player2Submitted {
		t.Fatalf("submission flags wrong: %+v", d)
	}
	if d.TimeRemainingSeconds <= 0 || d.TimeRemainingSeconds > 60 {
		t.Fatalf("expected about a minute left, got %d", d.TimeRemainingSeconds)
	}
}

func TestSweepCancelsExpiredMatch(t *testing.T) {
	m, store, _, tr, cleanup := newTestManager(t, judge.NewStubJudge(), 50*time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	match, _ := m.CreateMatch(ctx, "p1", "p2", "two-sum")
	m.JoinMatch(ctx, match.ID, "p1")

	time.Sleep(100 * time.Millisecond)
	m.Sweep(ctx)

	after, _ := store.GetMatch(ctx, match.ID)
	if after.Status != StatusCancelled || after.EndedAt == nil {
		t.Fatalf("expired match should be CANCELLED: %+v", after)
	}
	if due, _ := store.DueMatches(ctx, time.Now().Add(time.Hour)); len(due) != 0 {
		t.Fatalf("deadline index not cleaned: %v", due)
	}

	var ended *notify.MatchEndedEvent
	for _, ev := range tr.eventsFor("p1") {
		if e, ok := ev.(notify.MatchEndedEvent); ok {
			ended = &e
		}
	}
	if ended == nil || ended.WinnerID != "" {
		t.Fatalf("cancellation must notify with no winner: %+v", ended)
	}

	// sweeping again finds nothing
	m.Sweep(ctx)
	again, _ := store.GetMatch(ctx, match.ID)
	if again.Status != StatusCancelled {
		t.Fatalf("terminal state must not change: %s", again.Status)
	}
}

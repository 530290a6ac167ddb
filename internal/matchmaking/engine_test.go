package matchmaking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/leagueofcoding/arena/internal/battle"
	"github.com/leagueofcoding/arena/internal/judge"
	"github.com/leagueofcoding/arena/internal/msgcat"
	"github.com/leagueofcoding/arena/internal/notify"
	"github.com/leagueofcoding/arena/internal/presence"
	"github.com/leagueofcoding/arena/internal/problem"
	"github.com/leagueofcoding/arena/internal/queue"
	"github.com/leagueofcoding/arena/internal/rating"
	"github.com/redis/go-redis/v9"
)

// fixedRatings serves preset Elo values so tests control who pairs with whom.
type fixedRatings struct {
	elo map[string]int
}

func (f *fixedRatings) FindByUserID(_ context.Context, userID string) (*rating.Rating, error) {
	elo, ok := f.elo[userID]
	if !ok {
		return nil, nil
	}
	return &rating.Rating{UserID: userID, Elo: elo}, nil
}

func (f *fixedRatings) CreateDefault(_ context.Context, userID string) (*rating.Rating, error) {
	f.elo[userID] = 1200
	return &rating.Rating{UserID: userID, Elo: 1200}, nil
}

func (f *fixedRatings) RecordResult(context.Context, string, string) error { return nil }

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

func (f *fakeTransport) matchFoundFor(userID string) *notify.MatchFoundEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.toUser[userID] {
		if e, ok := ev.(notify.MatchFoundEvent); ok {
			return &e
		}
	}
	return nil
}

func newTestEngine(t *testing.T, elo map[string]int, problemIDs ...string) (*Engine, *battle.Store, *fakeTransport, func()) {
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
	ratings := &fixedRatings{elo: elo}
	battleStore := battle.NewStore(rdb, 15*time.Minute)
	battles := battle.NewManager(battleStore, judge.NewStubJudge(), dispatcher, ratings, 15*time.Minute)
	queueStore := queue.NewStore(rdb, 5*time.Minute)
	engine := NewEngine(queueStore, ratings, problem.NewMemCatalog(problemIDs...), battles, dispatcher, 200)
	return engine, battleStore, tr, func() { mr.Close() }
}

func TestJoinQueueDuplicate(t *testing.T) {
	e, _, _, cleanup := newTestEngine(t, map[string]int{"u1": 1200}, "two-sum")
	defer cleanup()
	ctx := context.Background()

	joined, err := e.JoinQueue(ctx, "u1")
	if err != nil || !joined {
		t.Fatalf("JoinQueue: joined=%v err=%v", joined, err)
	}
	joined, err = e.JoinQueue(ctx, "u1")
	if err != nil {
		t.Fatalf("JoinQueue dup: %v", err)
	}
	if joined {
		t.Fatalf("second join must report already queued")
	}
	if n, _ := e.QueueSize(ctx); n != 1 {
		t.Fatalf("expected queue size 1, got %d", n)
	}
}

func TestJoinQueueCreatesDefaultRating(t *testing.T) {
	e, _, _, cleanup := newTestEngine(t, map[string]int{}, "two-sum")
	defer cleanup()
	ctx := context.Background()

	joined, err := e.JoinQueue(ctx, "newcomer")
	if err != nil || !joined {
		t.Fatalf("JoinQueue: joined=%v err=%v", joined, err)
	}
	in, _ := e.IsInQueue(ctx, "newcomer")
	if !in {
		t.Fatalf("newcomer should be queued at the default rating")
	}
}

func TestPairingCreatesMatch(t *testing.T) {
	e, battleStore, tr, cleanup := newTestEngine(t,
		map[string]int{"alice": 1180, "bob": 1220}, "two-sum", "valid-parentheses")
	defer cleanup()
	ctx := context.Background()

	if joined, err := e.JoinQueue(ctx, "alice"); err != nil || !joined {
		t.Fatalf("JoinQueue alice: joined=%v err=%v", joined, err)
	}
	// alone in the queue, no pair yet
	if tr.matchFoundFor("alice") != nil {
		t.Fatalf("no opponent yet, MATCH_FOUND is premature")
	}

	if joined, err := e.JoinQueue(ctx, "bob"); err != nil || !joined {
		t.Fatalf("JoinQueue bob: joined=%v err=%v", joined, err)
	}

	evA, evB := tr.matchFoundFor("alice"), tr.matchFoundFor("bob")
	if evA == nil || evB == nil {
		t.Fatalf("both players must receive MATCH_FOUND: alice=%v bob=%v", evA, evB)
	}
	if evA.MatchID != evB.MatchID {
		t.Fatalf("players point at different matches: %s vs %s", evA.MatchID, evB.MatchID)
	}

	// both left the queue atomically
	if n, _ := e.QueueSize(ctx); n != 0 {
		t.Fatalf("paired players must leave the queue, size=%d", n)
	}

	match, err := battleStore.GetMatch(ctx, evA.MatchID)
	if err != nil || match == nil {
		t.Fatalf("match not stored: %v", err)
	}
	if match.Status != battle.StatusWaiting {
		t.Fatalf("fresh match should be WAITING, got %s", match.Status)
	}
	if match.ProblemID != "two-sum" && match.ProblemID != "valid-parentheses" {
		t.Fatalf("problem must come from the catalog, got %q", match.ProblemID)
	}
	if !match.IsParticipant("alice") || !match.IsParticipant("bob") {
		t.Fatalf("wrong participants: %+v", match)
	}
}

func TestPairingRespectsTolerance(t *testing.T) {
	e, _, tr, cleanup := newTestEngine(t, map[string]int{"low": 1000, "high": 1500}, "two-sum")
	defer cleanup()
	ctx := context.Background()

	e.JoinQueue(ctx, "low")
	e.JoinQueue(ctx, "high")

	if tr.matchFoundFor("low") != nil || tr.matchFoundFor("high") != nil {
		t.Fatalf("a 500 point gap must not pair")
	}
	if n, _ := e.QueueSize(ctx); n != 2 {
		t.Fatalf("both should still be waiting, size=%d", n)
	}
}

func TestPairingPicksClosestRating(t *testing.T) {
	// far and near cannot pair with each other (350 apart); the joiner at 1180
	// sees both in range and must take the closer one.
	e, _, tr, cleanup := newTestEngine(t,
		map[string]int{"far": 1000, "near": 1350, "joiner": 1180}, "two-sum")
	defer cleanup()
	ctx := context.Background()

	e.JoinQueue(ctx, "far")
	e.JoinQueue(ctx, "near")
	if tr.matchFoundFor("far") != nil {
		t.Fatalf("far and near must not pair")
	}

	e.JoinQueue(ctx, "joiner")
	if ev := tr.matchFoundFor("near"); ev == nil {
		t.Fatalf("joiner should pair with the closest candidate")
	}
	if tr.matchFoundFor("far") != nil {
		t.Fatalf("far must remain queued")
	}
	in, _ := e.IsInQueue(ctx, "far")
	if !in {
		t.Fatalf("far should still be waiting")
	}
}

func TestPickOpponentTieBreak(t *testing.T) {
	candidates := []queue.Entry{
		{UserID: "late", Rating: 1250, JoinedAt: 2000},
		{UserID: "early", Rating: 1150, JoinedAt: 1000},
		{UserID: "self", Rating: 1200, JoinedAt: 500},
	}
	got := pickOpponent(candidates, "self", 1200)
	if got == nil || got.UserID != "early" {
		t.Fatalf("equal rating distance must break ties by join time, got %+v", got)
	}
}

func TestEmptyCatalogKeepsPlayersQueued(t *testing.T) {
	e, _, tr, cleanup := newTestEngine(t, map[string]int{"a": 1180, "b": 1220})
	defer cleanup()
	ctx := context.Background()

	e.JoinQueue(ctx, "a")
	joined, err := e.JoinQueue(ctx, "b")
	if !joined {
		t.Fatalf("join itself should succeed")
	}
	if !errors.Is(err, ErrNoProblems) {
		t.Fatalf("expected ErrNoProblems, got %v", err)
	}
	// nobody lost their queue slot over a catalog problem
	if n, _ := e.QueueSize(ctx); n != 2 {
		t.Fatalf("queue entries must survive, size=%d", n)
	}
	if tr.matchFoundFor("a") != nil {
		t.Fatalf("no match can be found without problems")
	}
}

func TestLeaveQueue(t *testing.T) {
	e, _, _, cleanup := newTestEngine(t, map[string]int{"u1": 1200}, "two-sum")
	defer cleanup()
	ctx := context.Background()

	// leaving while not queued is a no-op
	if err := e.LeaveQueue(ctx, "u1"); err != nil {
		t.Fatalf("LeaveQueue absent: %v", err)
	}

	e.JoinQueue(ctx, "u1")
	if err := e.LeaveQueue(ctx, "u1"); err != nil {
		t.Fatalf("LeaveQueue: %v", err)
	}
	if in, _ := e.IsInQueue(ctx, "u1"); in {
		t.Fatalf("u1 should be gone")
	}
}

package presence

import (
	"sync"

	"github.com/leagueofcoding/arena/internal/obslog"
	"go.uber.org/zap"
)

// Tracker owns the process-wide set of connected usernames. The transport
// layer drives it through Connect/Disconnect; everything else only reads.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{users: make(map[string]struct{})}
}

// Connect marks the user online. Idempotent.
func (t *Tracker) Connect(username string) {
	if username == "" {
		return
	}
	t.mu.Lock()
	t.users[username] = struct{}{}
	n := len(t.users)
	t.mu.Unlock()
	obslog.L().Info("user_connect", zap.String("username", username), zap.Int("online", n))
}

// Disconnect marks the user offline. Idempotent.
func (t *Tracker) Disconnect(username string) {
	if username == "" {
		return
	}
	t.mu.Lock()
	delete(t.users, username)
	n := len(t.users)
	t.mu.Unlock()
	obslog.L().Info("user_disconnect", zap.String("username", username), zap.Int("online", n))
}

func (t *Tracker) IsOnline(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.users[username]
	return ok
}

// OnlineUsers returns a snapshot copy of the online set.
func (t *Tracker) OnlineUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.users))
	for u := range t.users {
		out = append(out, u)
	}
	return out
}

func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

package notify

import (
	"time"

	"github.com/leagueofcoding/arena/internal/msgcat"
	"github.com/leagueofcoding/arena/internal/obslog"
	"github.com/leagueofcoding/arena/internal/presence"
	"go.uber.org/zap"
)

// Transport carries events to connected clients. No delivery guarantee: a
// disconnected recipient simply misses the event.
type Transport interface {
	SendToUser(userID string, payload any) error
	Broadcast(payload any) error
}

// Dispatcher fans typed events out to users or broadcast channels. Delivery
// failures are logged and swallowed; they never fail the state change that
// produced the event.
type Dispatcher struct {
	tr       Transport
	tracker  *presence.Tracker
	messages *msgcat.Catalog
}

func NewDispatcher(tr Transport, tracker *presence.Tracker, messages *msgcat.Catalog) *Dispatcher {
	return &Dispatcher{tr: tr, tracker: tracker, messages: messages}
}

func (d *Dispatcher) sendToUser(userID string, payload any) {
	if err := d.tr.SendToUser(userID, payload); err != nil {
		obslog.L().Warn("notify_send_failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (d *Dispatcher) broadcast(payload any) {
	if err := d.tr.Broadcast(payload); err != nil {
		obslog.L().Warn("notify_broadcast_failed", zap.Error(err))
	}
}

// MatchFound tells both paired players to head to the battle room.
func (d *Dispatcher) MatchFound(player1ID, player2ID, matchID string) {
	msg, err := d.messages.Render("match.found", nil)
	if err != nil {
		msg = "Match found!"
	}
	ev := MatchFoundEvent{Type: EventMatchFound, MatchID: matchID, Message: msg}
	d.sendToUser(player1ID, ev)
	d.sendToUser(player2ID, ev)
}

// MatchStarted informs both players of the start time and fixed duration.
func (d *Dispatcher) MatchStarted(player1ID, player2ID, matchID string, startedAt time.Time, duration time.Duration) {
	ev := MatchStartedEvent{
		Type:            EventMatchStarted,
		MatchID:         matchID,
		StartedAt:       startedAt,
		DurationMinutes: int(duration.Minutes()),
	}
	d.sendToUser(player1ID, ev)
	d.sendToUser(player2ID, ev)
}

// OpponentSubmitted tells the opponent that a submission just landed.
func (d *Dispatcher) OpponentSubmitted(opponentID, matchID, submitterID string) {
	d.sendToUser(opponentID, OpponentSubmittedEvent{
		Type:    EventOpponentSubmitted,
		MatchID: matchID,
		UserID:  submitterID,
	})
}

// MatchEnded tells both players the match is over. WinnerID is empty for a
// cancelled match.
func (d *Dispatcher) MatchEnded(player1ID, player2ID, matchID, winnerID string, endedAt time.Time) {
	ev := MatchEndedEvent{Type: EventMatchEnded, MatchID: matchID, WinnerID: winnerID, EndedAt: endedAt}
	d.sendToUser(player1ID, ev)
	d.sendToUser(player2ID, ev)
}

// UserOnline broadcasts a presence change after a connect.
func (d *Dispatcher) UserOnline(username string) {
	d.broadcast(UserStatusEvent{
		Type:        EventUserStatus,
		Username:    username,
		Status:      StatusOnline,
		OnlineCount: d.tracker.OnlineCount(),
	})
}

// UserOffline broadcasts a presence change after a disconnect.
func (d *Dispatcher) UserOffline(username string) {
	d.broadcast(UserStatusEvent{
		Type:        EventUserStatus,
		Username:    username,
		Status:      StatusOffline,
		OnlineCount: d.tracker.OnlineCount(),
	})
}

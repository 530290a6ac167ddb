package notify

import "time"

// EventType tags every outbound event so clients can dispatch on it.
type EventType string

const (
	EventMatchFound        EventType = "MATCH_FOUND"
	EventMatchStarted      EventType = "MATCH_STARTED"
	EventOpponentSubmitted EventType = "OPPONENT_SUBMITTED"
	EventMatchEnded        EventType = "MATCH_ENDED"
	EventUserStatus        EventType = "USER_STATUS"
)

// UserStatus values carried by USER_STATUS events.
type UserStatus string

const (
	StatusOnline  UserStatus = "ONLINE"
	StatusOffline UserStatus = "OFFLINE"
)

type MatchFoundEvent struct {
	Type    EventType `json:"type"`
	MatchID string    `json:"matchId"`
	Message string    `json:"message"`
}

type MatchStartedEvent struct {
	Type            EventType `json:"type"`
	MatchID         string    `json:"matchId"`
	StartedAt       time.Time `json:"startedAt"`
	DurationMinutes int       `json:"durationMinutes"`
}

type OpponentSubmittedEvent struct {
	Type    EventType `json:"type"`
	MatchID string    `json:"matchId"`
	UserID  string    `json:"userId"`
}

type MatchEndedEvent struct {
	Type     EventType `json:"type"`
	MatchID  string    `json:"matchId"`
	WinnerID string    `json:"winnerId,omitempty"`
	EndedAt  time.Time `json:"endedAt"`
}

type UserStatusEvent struct {
	Type        EventType  `json:"type"`
	Username    string     `json:"username"`
	Status      UserStatus `json:"status"`
	OnlineCount int        `json:"onlineCount"`
}

package queue

// Entry is a waiting player's queue record, stored as JSON under the per-user
// key and indexed by rating in a sorted set.
type Entry struct {
	UserID   string `json:"user_id"`
	Rating   int    `json:"rating"`
	JoinedAt int64  `json:"joined_at"` // epoch millis
}

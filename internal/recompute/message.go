// internal/recompute/message.go
package recompute

import "time"

// Reason labels why a recompute was requested.
const (
	ReasonWantChanged = "want-changed"
	ReasonHaveChanged = "have-changed"
	ReasonReferencing = "referencing-set-stale"
	ReasonScheduled   = "scheduled"
	ReasonManual      = "manual"
)

// Message is one queued recompute request for a single user.
type Message struct {
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	Retry     int       `json:"retry"`
}

// NewMessage creates a recompute request.
func NewMessage(userID, reason string) *Message {
	if reason == "" {
		reason = ReasonManual
	}
	return &Message{
		UserID:    userID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

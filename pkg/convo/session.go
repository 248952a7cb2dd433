package convo

import (
	"time"

	"github.com/google/uuid"
)

/*
Session identifies one ongoing conversation between a caller and the
assistant. Sessions are created on the first message and evicted from
short-term memory after an idle TTL; long-term fragments outlive them.
*/
type Session struct {
	ID           string    `json:"session_id"`
	CallerID     string    `json:"caller_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func NewSession(callerID string) Session {
	now := time.Now()

	return Session{
		ID:           uuid.NewString(),
		CallerID:     callerID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

func (session *Session) Touch() {
	session.LastActiveAt = time.Now()
}

package convo

import (
	"time"

	"github.com/google/uuid"
)

// Role labels who produced a message or turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

/*
Turn is one half of a user/assistant exchange. Turns are written once
and immutable afterwards; corrections are new turns.
*/
type Turn struct {
	ID         string    `json:"turn_id"`
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ModelUsed  string    `json:"model_used,omitempty"`
	TokenCount int       `json:"token_count"`
}

func NewTurn(sessionID string, role Role, content string) Turn {
	return Turn{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now(),
		TokenCount: EstimateTokens(content),
	}
}

func (turn Turn) WithModel(model string) Turn {
	turn.ModelUsed = model
	return turn
}

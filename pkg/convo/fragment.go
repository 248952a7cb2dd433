package convo

import (
	"time"

	"github.com/oklog/ulid/v2"
)

/*
MemoryFragment is a unit of long-term memory: a piece of text with its
embedding and enough metadata to scope retrieval to one caller. The
Score field is filled in at query time and is zero at rest. Fragments
are append-only; IDs are ULIDs so they sort by creation time.
*/
type MemoryFragment struct {
	ID        string    `json:"fragment_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	CallerID  string    `json:"caller_id"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Tags      []string  `json:"tags,omitempty"`
	Score     float64   `json:"score,omitempty"`
}

func NewFragment(callerID, sessionID, text string, tags ...string) MemoryFragment {
	return MemoryFragment{
		ID:        ulid.Make().String(),
		Text:      text,
		CallerID:  callerID,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		Tags:      tags,
	}
}

/*
MemoryBundle is what memory retrieval hands to the context assembler:
exact recent turns from short-term memory and approximate related
fragments from long-term memory. Either set may be empty.
*/
type MemoryBundle struct {
	Recent  []Turn           `json:"recent"`
	Related []MemoryFragment `json:"related"`
}

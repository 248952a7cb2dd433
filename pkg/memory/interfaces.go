package memory

import (
	"context"

	"github.com/theapemachine/minne/pkg/convo"
)

/*
ShortTerm is the per-session recent-turn cache. Every Put refreshes the
session's idle TTL; expiry is enforced by the store, not polled here.
GetRecent returns the last n turns oldest-first, and an absent or
expired session yields an empty result, never an error.
*/
type ShortTerm interface {
	Put(ctx context.Context, sessionID string, turn convo.Turn) error
	GetRecent(ctx context.Context, sessionID string, n int) ([]convo.Turn, error)
	Touch(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

/*
VectorStore persists embedded fragments and answers nearest-neighbour
queries. Query must restrict candidates to the given callerID; tenant
isolation is enforced at the store, not in callers.
*/
type VectorStore interface {
	Insert(ctx context.Context, fragment convo.MemoryFragment) error
	Query(ctx context.Context, vector []float32, callerID string, k int) ([]convo.MemoryFragment, error)
	Ping(ctx context.Context) error
}

// Embedder turns text into a fixed-length vector. Dims reports the
// output length so stores can validate what they are given.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

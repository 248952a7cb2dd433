package memory

import (
	"context"
	"sync"

	"github.com/theapemachine/minne/pkg/convo"
)

/*
MemoryVectorStore is the embedded fragment store used when no vector
database is configured. Fragments live in process memory, scored by
cosine similarity on query.
*/
type MemoryVectorStore struct {
	mu        sync.RWMutex
	fragments []convo.MemoryFragment
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{}
}

func (store *MemoryVectorStore) Insert(ctx context.Context, fragment convo.MemoryFragment) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.fragments = append(store.fragments, fragment)
	return nil
}

func (store *MemoryVectorStore) Query(
	ctx context.Context, vector []float32, callerID string, k int,
) ([]convo.MemoryFragment, error) {
	if k <= 0 {
		return nil, nil
	}

	store.mu.RLock()
	defer store.mu.RUnlock()

	scored := make([]convo.MemoryFragment, 0, len(store.fragments))
	for _, fragment := range store.fragments {
		if fragment.CallerID != callerID {
			continue
		}

		fragment.Score = CosineSimilarity(vector, fragment.Embedding)
		scored = append(scored, fragment)
	}

	sortFragments(scored)

	if len(scored) > k {
		scored = scored[:k]
	}

	return scored, nil
}

// Count reports how many fragments the given caller owns.
func (store *MemoryVectorStore) Count(callerID string) int {
	store.mu.RLock()
	defer store.mu.RUnlock()

	count := 0
	for _, fragment := range store.fragments {
		if fragment.CallerID == callerID {
			count++
		}
	}

	return count
}

func (store *MemoryVectorStore) Ping(ctx context.Context) error {
	return nil
}

package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/theapemachine/minne/pkg/convo"
)

/*
LongTerm is the append-only fragment memory. It pairs an embedder with
a vector store so callers hand it plain text and get similarity-ranked
fragments back. Fragments are never updated or deleted once written.
*/
type LongTerm struct {
	embedder Embedder
	store    VectorStore
}

func NewLongTerm(embedder Embedder, store VectorStore) *LongTerm {
	return &LongTerm{
		embedder: embedder,
		store:    store,
	}
}

/*
Insert embeds the fragment text if no embedding is attached yet and
writes it to the vector store under the fragment's caller.
*/
func (longterm *LongTerm) Insert(ctx context.Context, fragment convo.MemoryFragment) error {
	if fragment.CallerID == "" {
		return fmt.Errorf("fragment %s has no caller", fragment.ID)
	}

	if len(fragment.Embedding) == 0 {
		embedding, err := longterm.embedder.Embed(ctx, fragment.Text)
		if err != nil {
			return fmt.Errorf("failed to embed fragment: %w", err)
		}
		fragment.Embedding = embedding
	}

	if dims := longterm.embedder.Dims(); len(fragment.Embedding) != dims {
		return fmt.Errorf(
			"fragment %s embedding has %d dims, store expects %d",
			fragment.ID, len(fragment.Embedding), dims,
		)
	}

	return longterm.store.Insert(ctx, fragment)
}

/*
Search embeds the query text and returns the caller's k most similar
fragments, highest score first. Equal scores break toward the newer
fragment so results stay deterministic.
*/
func (longterm *LongTerm) Search(
	ctx context.Context, callerID, query string, k int,
) ([]convo.MemoryFragment, error) {
	if k <= 0 {
		return nil, nil
	}

	vector, err := longterm.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	fragments, err := longterm.store.Query(ctx, vector, callerID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}

	sortFragments(fragments)

	if len(fragments) > k {
		fragments = fragments[:k]
	}

	return fragments, nil
}

func (longterm *LongTerm) Ping(ctx context.Context) error {
	return longterm.store.Ping(ctx)
}

// sortFragments orders by score descending, then newest first on ties.
func sortFragments(fragments []convo.MemoryFragment) {
	sort.SliceStable(fragments, func(i, j int) bool {
		if fragments[i].Score != fragments[j].Score {
			return fragments[i].Score > fragments[j].Score
		}
		return fragments[i].CreatedAt.After(fragments[j].CreatedAt)
	})
}

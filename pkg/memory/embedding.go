package memory

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

/*
MockEmbedder generates deterministic pseudo-embeddings: the same text
always maps to the same unit vector. It backs dev mode when no real
embedding provider is configured, and most tests.
*/
type MockEmbedder struct {
	dims int
}

func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 8
	}

	return &MockEmbedder{dims: dims}
}

func (embedder *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := fnv.New64a()
	hash.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(hash.Sum64())))

	vector := make([]float32, embedder.dims)
	var norm float64

	for i := range vector {
		value := rng.Float64()*2 - 1
		vector[i] = float32(value)
		norm += value * value
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}

	return vector, nil
}

func (embedder *MockEmbedder) Dims() int {
	return embedder.dims
}

/*
CosineSimilarity returns the cosine of the angle between two vectors,
0 when either is empty, zero, or the lengths differ.
*/
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

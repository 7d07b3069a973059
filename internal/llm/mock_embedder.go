package llm

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEmbedder generates deterministic unit vectors from a text hash. It
// stands in for a real embedding model in tests and offline development:
// identical text always maps to the identical vector, so similarity math
// stays reproducible without model files or network access.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder creates a mock embedder producing vectors of the given size.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed creates a deterministic embedding from the text hash.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// Linear congruential step keeps the sequence deterministic.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalizeVector(embedding), nil
}

// GetModel returns a fixed identifier for the mock.
func (m *MockEmbedder) GetModel() string {
	return "mock-embedder"
}

var _ EmbeddingGenerator = (*MockEmbedder)(nil)

// normalizeVector scales a vector to unit length. Zero vectors pass through.
func normalizeVector(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

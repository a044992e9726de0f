// Package mock provides a deterministic embedder for tests and offline use.
//
// Vectors are built from per-token hashes, so texts sharing words score
// higher cosine similarity than unrelated texts. No model files, no network.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultDimensions matches all-MiniLM-L6-v2 so the mock can stand in for
// the ONNX embedder without re-embedding stored banks in tests.
const DefaultDimensions = 384

// Embedder generates deterministic bag-of-words embeddings.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the default dimensionality.
func New() *Embedder {
	return &Embedder{dimensions: DefaultDimensions}
}

// NewWithDimensions creates a mock embedder with a custom vector size.
func NewWithDimensions(dims int) *Embedder {
	return &Embedder{dimensions: dims}
}

// Embed sums a deterministic pseudo-random vector per lowercased token and
// normalizes the result. Identical texts embed identically; texts with
// overlapping vocabulary land closer than disjoint ones.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		seed := h.Sum64()

		for i := 0; i < e.dimensions; i++ {
			// LCG keyed by the token hash
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}

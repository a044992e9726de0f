package memory

import "context"

// Embedder converts text into a vector for similarity search.
//
// Implementations:
//   - embedder/mock: deterministic hash-based vectors for tests
//   - embedder/onnx: all-MiniLM-L6-v2 via onnxruntime (real semantics, offline)
//   - embedder/cached: ristretto cache in front of either
type Embedder interface {
	// Embed converts text to a vector. The returned slice must not be
	// retained or mutated by the embedder after return.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int
}

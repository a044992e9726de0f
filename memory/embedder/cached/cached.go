// Package cached wraps any embedder with a ristretto cache.
//
// The reasoning loop re-embeds the same task description on every retrieval
// and the extractor embeds freshly distilled records in bursts; caching by
// text avoids repeated model inference for identical inputs.
package cached

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/solventlab/des-agent-go/memory"
)

// DefaultMaxEntries bounds the cache. Vectors are ~1.5KB at 384 dims, so
// the default stays well under 20MB.
const DefaultMaxEntries = 10_000

// Embedder decorates an inner embedder with an in-process cache.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// New wraps inner with a cache of at most maxEntries embeddings.
// maxEntries <= 0 uses DefaultMaxEntries.
func New(inner memory.Embedder, maxEntries int64) (*Embedder, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns a cached vector when one exists for the exact text,
// otherwise delegates to the inner embedder and caches the result.
// Callers receive a copy, never the cached slice.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			out := make([]float32, len(vec))
			copy(out, vec)
			return out, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	e.cache.Set(text, stored, 1)
	return vec, nil
}

// Dimensions returns the inner embedder's dimensionality.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until buffered cache writes are applied. Mostly useful in
// tests; production callers can tolerate a miss on a racing write.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close releases cache resources.
func (e *Embedder) Close() {
	e.cache.Close()
}

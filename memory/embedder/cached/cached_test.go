package cached

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solventlab/des-agent-go/memory/embedder/mock"
)

// countingEmbedder tracks how often the inner model is actually invoked.
type countingEmbedder struct {
	inner *mock.Embedder
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestEmbedder_CachesByText(t *testing.T) {
	inner := &countingEmbedder{inner: mock.New()}
	e, err := New(inner, 100)
	require.NoError(t, err)
	defer e.Close()
	ctx := context.Background()

	first, err := e.Embed(ctx, "choline chloride urea")
	require.NoError(t, err)
	e.Wait()

	second, err := e.Embed(ctx, "choline chloride urea")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	_, err = e.Embed(ctx, "a different text")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestEmbedder_ReturnsCopies(t *testing.T) {
	e, err := New(mock.New(), 100)
	require.NoError(t, err)
	defer e.Close()
	ctx := context.Background()

	first, err := e.Embed(ctx, "mutate me")
	require.NoError(t, err)
	e.Wait()
	first[0] = 999

	second, err := e.Embed(ctx, "mutate me")
	require.NoError(t, err)
	assert.NotEqual(t, float32(999), second[0])
}

func TestEmbedder_InnerErrorNotCached(t *testing.T) {
	inner := &countingEmbedder{inner: mock.New(), err: errors.New("model offline")}
	e, err := New(inner, 100)
	require.NoError(t, err)
	defer e.Close()
	ctx := context.Background()

	_, err = e.Embed(ctx, "text")
	assert.Error(t, err)

	inner.err = nil
	vec, err := e.Embed(ctx, "text")
	require.NoError(t, err)
	assert.NotNil(t, vec)
	assert.Equal(t, 2, inner.calls)
}

func TestEmbedder_DefaultsAndDimensions(t *testing.T) {
	e, err := New(mock.New(), 0)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, mock.DefaultDimensions, e.Dimensions())
}

package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedder_HitsSkipInner(t *testing.T) {
	inner := &countingEmbedder{dims: 8}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "lamp")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "lamp")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCachedEmbedder_EvictsOldest(t *testing.T) {
	inner := &countingEmbedder{dims: 8}
	c := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c", "a"} {
		_, err := c.Embed(ctx, q)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(4), inner.calls.Load())
	assert.Equal(t, 2, c.Len())
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{dims: 8, fail: true}
	c := NewCachedEmbedder(inner, 10)

	_, err := c.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCachedEmbedder_CloseClosesInner(t *testing.T) {
	inner := &countingEmbedder{dims: 8}
	c := NewCachedEmbedder(inner, 0)
	require.NoError(t, c.Close())
	assert.True(t, inner.closed.Load())
	assert.Same(t, inner, c.Inner())
}

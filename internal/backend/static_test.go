package backend

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder(256)
	defer func() { _ = e.Close() }()

	a, err := e.Embed(context.Background(), "func ParseConfig(path string) error")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "func ParseConfig(path string) error")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStaticEmbedder_HonorsDimensions(t *testing.T) {
	for _, dims := range []int{64, 256, 768} {
		e := NewStaticEmbedder(dims)
		vec, err := e.Embed(context.Background(), "some code")
		require.NoError(t, err)
		assert.Len(t, vec, dims)
		_ = e.Close()
	}
}

func TestStaticEmbedder_VectorIsNormalized(t *testing.T) {
	e := NewStaticEmbedder(256)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "connectDatabase retries with backoff")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001)
}

func TestStaticEmbedder_EmptyTextGivesZeroVector(t *testing.T) {
	e := NewStaticEmbedder(64)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 64), vec)
}

func TestStaticEmbedder_DistinctTextsDiffer(t *testing.T) {
	e := NewStaticEmbedder(256)
	defer func() { _ = e.Close() }()

	a, err := e.Embed(context.Background(), "parse yaml workspace manifest")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "render bubbletea progress view")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestStaticEmbedder_EmbedBatchPreservesOrder(t *testing.T) {
	e := NewStaticEmbedder(128)
	defer func() { _ = e.Close() }()

	texts := []string{"alpha", "beta", "gamma"}
	batch, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "batch[%d] should match single embed of %q", i, text)
	}
}

func TestStaticEmbedder_ClosedRejectsCalls(t *testing.T) {
	e := NewStaticEmbedder(64)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestSplitCamelCase(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want []string
	}{
		{"parseConfig", []string{"parse", "Config"}},
		{"HTTPServer", []string{"HTTP", "Server"}},
		{"simple", []string{"simple"}},
		{"", nil},
	} {
		assert.Equal(t, tc.want, splitCamelCase(tc.in), "splitCamelCase(%q)", tc.in)
	}
}

package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestPrefersFirstOnTie(t *testing.T) {
	idx := NewInMemoryIndex()
	idx.Replace([]VectorItem{
		{Key: "first", Vector: []float32{1, 0}},
		{Key: "second", Vector: []float32{2, 0}},
		{Key: "other", Vector: []float32{0, 1}},
	})

	hit, ok := idx.Best([]float32{1, 0})
	require.True(t, ok)
	assert.Equal(t, "first", hit.Key)
	assert.Equal(t, 0, hit.Position)
	assert.InDelta(t, 1.0, hit.Score, 1e-6)
}

func TestBestEmptyIndex(t *testing.T) {
	_, ok := NewInMemoryIndex().Best([]float32{1})
	assert.False(t, ok)
}

func TestSearchOrdersByScore(t *testing.T) {
	idx := NewInMemoryIndex()
	idx.Replace([]VectorItem{
		{Key: "a", Vector: []float32{0, 1}},
		{Key: "b", Vector: []float32{1, 1}},
		{Key: "c", Vector: []float32{1, 0}},
	})
	hits := idx.Search([]float32{1, 0}, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "c", hits[0].Key)
	assert.Equal(t, "b", hits[1].Key)
	assert.Nil(t, idx.Search([]float32{1, 0}, 0))
}

func TestReplaceCopiesVectors(t *testing.T) {
	vec := []float32{1, 0}
	idx := NewInMemoryIndex()
	idx.Replace([]VectorItem{{Key: "a", Vector: vec}})
	vec[0] = 0
	hit, ok := idx.Best([]float32{1, 0})
	require.True(t, ok)
	assert.InDelta(t, 1.0, hit.Score, 1e-6)
	assert.Equal(t, 1, idx.Size())
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	assert.Equal(t, float32(0), cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, float32(0), cosineSimilarity(nil, []float32{1, 0}))
}

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTemp(t *testing.T) (*VectorStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache", "vectors.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestPutGetVector(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	_, ok, err := s.GetVector("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []float32{0.25, -1.5, 3}
	require.NoError(t, s.PutVector("k", want))
	got, ok, err := s.GetVector("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEmptyVectorIsStored(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	require.NoError(t, s.PutVector("empty", []float32{}))
	got, ok, err := s.GetVector("empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestVectorsSurviveReopen(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.PutVector("k", []float32{1, 2}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok, err := reopened.GetVector("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestClear(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	require.NoError(t, s.PutVector("a", []float32{1}))
	require.NoError(t, s.PutVector("b", []float32{2}))
	require.NoError(t, s.Clear())
	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCorruptRecord(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVectors).Put([]byte("bad"), []byte{9, 0, 0, 0, 1})
	}))
	_, _, err := s.GetVector("bad")
	assert.ErrorIs(t, err, errCorrupt)
}

func TestEncodeDecode(t *testing.T) {
	_, err := decodeVector([]byte{1})
	assert.ErrorIs(t, err, errCorrupt)
	vec, err := decodeVector(encodeVector([]float32{7}))
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, vec)
}

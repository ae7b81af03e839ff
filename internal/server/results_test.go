package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryResultStoreRoundTrip(t *testing.T) {
	s := NewMemoryResultStore(time.Hour)
	defer s.Close()

	want := StoredResult{Filename: "cases.csv", CSV: []byte("a,b\n"), Layer: []byte(`{"name":"x"}`)}
	require.NoError(t, s.Put("abc", want))

	got, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestMemoryResultStoreExpires(t *testing.T) {
	s := NewMemoryResultStore(2 * time.Second)
	defer s.Close()

	require.NoError(t, s.Put("old", StoredResult{Filename: "old.csv"}))
	_, err := s.Get("old")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := s.Get("old")
		return errors.Is(err, ErrResultNotFound)
	}, 6*time.Second, 100*time.Millisecond)
}

func TestMemoryResultStoreWithoutTTLKeepsEntries(t *testing.T) {
	s := NewMemoryResultStore(0)
	defer s.Close()

	require.NoError(t, s.Put("keep", StoredResult{Filename: "keep.csv"}))
	time.Sleep(1100 * time.Millisecond)
	got, err := s.Get("keep")
	require.NoError(t, err)
	assert.Equal(t, "keep.csv", got.Filename)
}

package mapper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) *Taxonomy {
	t.Helper()
	tax, err := LoadTaxonomyFile(filepath.Join("testdata", "attack-mini.json"))
	require.NoError(t, err)
	return tax
}

func newLexicalService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewCachingEmbedder(NewLexicalBackend(1024), nil), nil)
	require.NoError(t, err)
	require.NoError(t, svc.LoadTaxonomy(context.Background(), loadFixture(t)))
	return svc
}

// countingBackend wraps a backend and records how many texts it encoded.
type countingBackend struct {
	Backend
	mu    sync.Mutex
	calls int
	texts int
	fail  func(texts []string) bool
}

func (c *countingBackend) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(texts)
	c.mu.Unlock()
	if c.fail != nil && c.fail(texts) {
		return nil, errors.New("backend unavailable")
	}
	return c.Backend.Encode(ctx, texts)
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]float32
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]float32)}
}

func (m *memoryCache) GetVector(key string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) PutVector(key string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = cloneVector(vec)
	return nil
}

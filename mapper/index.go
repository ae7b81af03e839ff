package mapper

import (
	"math"
	"sort"
	"sync"
)

// VectorItem represents an entry within a vector index.
type VectorItem struct {
	Key    string
	Vector []float32
}

// Hit is one search result. Position is the item's insertion index.
type Hit struct {
	Key      string
	Score    float32
	Position int
}

// InMemoryIndex is a brute-force vector index with cosine similarity.
// At ATT&CK scale (a few hundred techniques) a linear scan is enough.
type InMemoryIndex struct {
	mu    sync.RWMutex
	items []VectorItem
}

// NewInMemoryIndex constructs an empty index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

// Replace swaps the stored items atomically.
func (idx *InMemoryIndex) Replace(items []VectorItem) {
	copied := make([]VectorItem, len(items))
	for i, it := range items {
		copied[i] = VectorItem{Key: it.Key, Vector: cloneVector(it.Vector)}
	}
	idx.mu.Lock()
	idx.items = copied
	idx.mu.Unlock()
}

// Size returns the current number of vectors stored.
func (idx *InMemoryIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.items)
}

// Best returns the highest-scoring item. Ties go to the earliest item.
func (idx *InMemoryIndex) Best(vec []float32) (Hit, bool) {
	idx.mu.RLock()
	items := idx.items
	idx.mu.RUnlock()
	if len(items) == 0 {
		return Hit{}, false
	}
	best := Hit{Key: items[0].Key, Score: cosineSimilarity(vec, items[0].Vector), Position: 0}
	for i := 1; i < len(items); i++ {
		score := cosineSimilarity(vec, items[i].Vector)
		if score > best.Score {
			best = Hit{Key: items[i].Key, Score: score, Position: i}
		}
	}
	return best, true
}

// Search performs cosine similarity against all stored items and returns the
// top-k hits. Equal scores keep insertion order.
func (idx *InMemoryIndex) Search(vec []float32, k int) []Hit {
	idx.mu.RLock()
	items := idx.items
	idx.mu.RUnlock()
	if len(items) == 0 || k <= 0 {
		return nil
	}
	hits := make([]Hit, len(items))
	for i, it := range items {
		hits[i] = Hit{Key: it.Key, Score: cosineSimilarity(vec, it.Vector), Position: i}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		fa := float64(a[i])
		fb := float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

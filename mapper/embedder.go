package mapper

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"yashubustudio/attackmapper/emb"
)

// Embedder exposes the minimal surface required by the service layer.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
	ModelID() string
}

// Backend produces raw vectors. Implementations do not cache.
type Backend interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Close() error
}

// VectorCache persists vectors across runs.
type VectorCache interface {
	GetVector(key string) ([]float32, bool, error)
	PutVector(key string, vec []float32) error
}

// CachingEmbedder memoizes backend vectors in memory and, optionally, in a
// persistent VectorCache keyed by model and normalized text.
type CachingEmbedder struct {
	backend Backend
	store   VectorCache

	mu       sync.RWMutex
	memCache map[string][]float32
}

// NewCachingEmbedder wraps backend. store may be nil.
func NewCachingEmbedder(backend Backend, store VectorCache) *CachingEmbedder {
	return &CachingEmbedder{
		backend:  backend,
		store:    store,
		memCache: make(map[string][]float32),
	}
}

// NewEmbedder builds the backend named in cfg and wraps it with caching.
func NewEmbedder(cfg EmbedderConfig, store VectorCache) (*CachingEmbedder, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case BackendONNX, "":
		backend, err = NewORTBackend(cfg)
	case BackendOpenAI:
		backend = NewOpenAIBackend(cfg.OpenAI)
	case BackendLexical:
		backend = NewLexicalBackend(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedder backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewCachingEmbedder(backend, store), nil
}

// Close releases backend resources.
func (c *CachingEmbedder) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	c.mu.Lock()
	c.memCache = make(map[string][]float32)
	c.mu.Unlock()
	return c.backend.Close()
}

// UsingGPU reports whether the backend runs inference on a GPU.
func (c *CachingEmbedder) UsingGPU() bool {
	g, ok := c.backend.(interface{ UsingGPU() bool })
	return ok && g.UsingGPU()
}

// ModelID returns the identifier used for cache keys.
func (c *CachingEmbedder) ModelID() string {
	return c.backend.ModelID()
}

// EmbedText embeds a single string with caching.
func (c *CachingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds texts, sending only cache misses to the backend in one call.
func (c *CachingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("embedder is not initialized")
	}
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	pending := make(map[string][]int)
	var missing []string
	for i, t := range texts {
		normalized := NormalizeText(t)
		key := c.cacheKey(normalized)
		keys[i] = key
		if vec := c.lookup(key); vec != nil {
			out[i] = vec
			continue
		}
		if _, ok := pending[key]; !ok {
			missing = append(missing, normalized)
		}
		pending[key] = append(pending[key], i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vecs, err := c.backend.Encode(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("backend returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for j, text := range missing {
		key := c.cacheKey(text)
		c.remember(key, vecs[j])
		for _, i := range pending[key] {
			out[i] = cloneVector(vecs[j])
		}
	}
	return out, nil
}

func (c *CachingEmbedder) cacheKey(text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.backend.ModelID())
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachingEmbedder) lookup(key string) []float32 {
	c.mu.RLock()
	vec, ok := c.memCache[key]
	c.mu.RUnlock()
	if ok {
		return cloneVector(vec)
	}
	if c.store == nil {
		return nil
	}
	vec, ok, err := c.store.GetVector(key)
	if err != nil || !ok {
		return nil
	}
	c.mu.Lock()
	c.memCache[key] = cloneVector(vec)
	c.mu.Unlock()
	return vec
}

func (c *CachingEmbedder) remember(key string, vec []float32) {
	c.mu.Lock()
	c.memCache[key] = cloneVector(vec)
	c.mu.Unlock()
	if c.store != nil {
		_ = c.store.PutVector(key, vec)
	}
}

// ORTBackend runs a local ONNX sentence-transformer through emb.Encoder.
type ORTBackend struct {
	enc *emb.Encoder
	id  string
}

// NewORTBackend initializes the encoder described by cfg.
func NewORTBackend(cfg EmbedderConfig) (*ORTBackend, error) {
	id := cfg.ModelID
	if id == "" && cfg.ModelPath != "" {
		id = filepath.Base(filepath.Dir(cfg.ModelPath)) + "/" + filepath.Base(cfg.ModelPath)
	}
	encoder := &emb.Encoder{}
	if err := encoder.Init(emb.Config{
		OrtDLL:        cfg.OrtDLL,
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		MaxSeqLen:     cfg.MaxSeqLen,
		UseGPU:        cfg.UseGPU,
	}); err != nil {
		return nil, err
	}
	return &ORTBackend{enc: encoder, id: id}, nil
}

// Encode embeds texts one at a time.
func (b *ORTBackend) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := b.enc.Encode(t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// ModelID returns the model identifier.
func (b *ORTBackend) ModelID() string { return b.id }

// UsingGPU reports whether inference runs on CUDA.
func (b *ORTBackend) UsingGPU() bool { return b.enc.UsingGPU() }

// Close releases ORT resources.
func (b *ORTBackend) Close() error {
	if b.enc != nil {
		b.enc.Close()
	}
	return nil
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

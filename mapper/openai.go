package mapper

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// OpenAIBackend embeds text through an OpenAI-compatible /embeddings endpoint.
// Requests are split into batches, run with bounded concurrency and paced
// by a token bucket when RequestsPerMinute is set.
type OpenAIBackend struct {
	client      openai.Client
	model       string
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
}

// NewOpenAIBackend creates a backend. An empty APIKey falls back to OPENAI_API_KEY.
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	b := &OpenAIBackend{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}
	if b.model == "" {
		b.model = "text-embedding-3-small"
	}
	if b.batchSize <= 0 {
		b.batchSize = 64
	}
	if b.concurrency <= 0 {
		b.concurrency = 1
	}
	if cfg.RequestsPerMinute > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}
	return b
}

// ModelID returns the remote model name.
func (b *OpenAIBackend) ModelID() string { return "openai:" + b.model }

// Close is a no-op; the SDK client holds no resources.
func (b *OpenAIBackend) Close() error { return nil }

// Encode embeds texts, preserving input order.
func (b *OpenAIBackend) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			return b.encodeBatch(gctx, texts[start:end], out[start:end])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *OpenAIBackend) encodeBatch(ctx context.Context, batch []string, dst [][]float32) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	// The API rejects empty strings.
	inputs := make([]string, len(batch))
	for i, t := range batch {
		if t == "" {
			t = " "
		}
		inputs[i] = t
	}
	resp, err := b.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: openai.EmbeddingModel(b.model),
	})
	if err != nil {
		return fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(batch))
	}
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(dst) {
			return fmt.Errorf("openai returned out-of-range index %d", idx)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		dst[idx] = vec
	}
	return nil
}

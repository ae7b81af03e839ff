package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Service embeds the taxonomy once and matches free text against it.
type Service struct {
	embedder Embedder
	logger   *slog.Logger

	mu       sync.RWMutex
	taxonomy *Taxonomy
	index    *InMemoryIndex
}

// NewService constructs a service around embedder. A nil logger discards output.
func NewService(embedder Embedder, logger *slog.Logger) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		embedder: embedder,
		logger:   logger,
		index:    NewInMemoryIndex(),
	}, nil
}

// Close releases embedder resources.
func (s *Service) Close() error {
	if s.embedder != nil {
		return s.embedder.Close()
	}
	return nil
}

// ModelID reports the embedding model in use.
func (s *Service) ModelID() string {
	return s.embedder.ModelID()
}

// Taxonomy returns the indexed taxonomy or nil.
func (s *Service) Taxonomy() *Taxonomy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taxonomy
}

// Ready reports whether a non-empty taxonomy is indexed.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taxonomy != nil && s.index.Size() > 0
}

// LoadTaxonomy embeds every technique and replaces the index.
func (s *Service) LoadTaxonomy(ctx context.Context, tax *Taxonomy) error {
	if tax == nil || tax.Len() == 0 {
		s.mu.Lock()
		s.taxonomy = nil
		s.index = NewInMemoryIndex()
		s.mu.Unlock()
		return ErrNoTaxonomy
	}
	texts := make([]string, len(tax.Techniques))
	for i, tech := range tax.Techniques {
		texts[i] = techniqueText(tech)
	}
	vecs, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed taxonomy: %w", err)
	}
	items := make([]VectorItem, len(tax.Techniques))
	for i, tech := range tax.Techniques {
		items[i] = VectorItem{Key: tech.ID, Vector: vecs[i]}
	}
	idx := NewInMemoryIndex()
	idx.Replace(items)

	s.mu.Lock()
	s.taxonomy = tax
	s.index = idx
	s.mu.Unlock()
	s.logger.Info("taxonomy indexed", "techniques", len(items), "tactics", len(tax.Tactics), "model", s.embedder.ModelID())
	return nil
}

func techniqueText(t Technique) string {
	if t.Description == "" {
		return t.Name
	}
	return t.Name + ". " + t.Description
}

func (s *Service) snapshot() (*Taxonomy, *InMemoryIndex) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taxonomy, s.index
}

// Match returns the best technique for text. It returns the N/A sentinel
// when no taxonomy is indexed and the Error sentinel when embedding fails.
func (s *Service) Match(ctx context.Context, text string) Match {
	tax, idx := s.snapshot()
	if tax == nil || idx.Size() == 0 {
		return sentinelMatch(SentinelNA)
	}
	vec, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		s.logger.Warn("embed record failed", "err", err)
		return sentinelMatch(SentinelError)
	}
	return s.best(tax, idx, vec)
}

// MatchAll matches texts in one batch. When the batch embedding fails each
// record is retried on its own so a single bad record degrades alone.
func (s *Service) MatchAll(ctx context.Context, texts []string) []Match {
	out := make([]Match, len(texts))
	tax, idx := s.snapshot()
	if tax == nil || idx.Size() == 0 {
		for i := range out {
			out[i] = sentinelMatch(SentinelNA)
		}
		return out
	}
	vecs, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		s.logger.Warn("batch embedding failed, matching records one by one", "records", len(texts), "err", err)
		for i, t := range texts {
			out[i] = s.Match(ctx, t)
		}
		return out
	}
	for i, vec := range vecs {
		out[i] = s.best(tax, idx, vec)
	}
	return out
}

// Suggest returns the k closest techniques for text, best first.
func (s *Service) Suggest(ctx context.Context, text string, k int) ([]Match, error) {
	tax, idx := s.snapshot()
	if tax == nil || idx.Size() == 0 {
		return nil, ErrNoTaxonomy
	}
	vec, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	hits := idx.Search(vec, k)
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		tech, ok := tax.Technique(h.Key)
		if !ok {
			continue
		}
		out = append(out, newMatch(tax, tech, h.Score))
	}
	return out, nil
}

func (s *Service) best(tax *Taxonomy, idx *InMemoryIndex, vec []float32) Match {
	hit, ok := idx.Best(vec)
	if !ok {
		return sentinelMatch(SentinelNA)
	}
	tech, ok := tax.Technique(hit.Key)
	if !ok {
		return sentinelMatch(SentinelError)
	}
	return newMatch(tax, tech, hit.Score)
}

func newMatch(tax *Taxonomy, tech Technique, score float32) Match {
	names := make([]string, 0, len(tech.Tactics))
	for _, phase := range tech.Tactics {
		if tac, ok := tax.Tactic(phase); ok {
			names = append(names, tac.Name)
			continue
		}
		names = append(names, phase)
	}
	return Match{
		Tactic:    strings.Join(names, ", "),
		Technique: tech.Label(),
		URL:       tech.URL,
		Tactics:   names,
		Score:     score,
	}
}

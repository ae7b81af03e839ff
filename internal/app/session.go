// Package app runs the mapping pipeline behind the CLI, web and MCP front
// ends: taxonomy and technique vectors are loaded once per session, then
// every upload is matched, tallied and rendered from scratch.
package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"yashubustudio/attackmapper/mapper"
)

// Loader produces a taxonomy snapshot.
type Loader func(ctx context.Context) (*mapper.Taxonomy, error)

// ConfigLoader returns a Loader for the taxonomy settings in cfg.
func ConfigLoader(cfg mapper.TaxonomyConfig) Loader {
	return func(ctx context.Context) (*mapper.Taxonomy, error) {
		return mapper.LoadTaxonomy(ctx, cfg)
	}
}

// Result is everything produced for one uploaded file.
type Result struct {
	ID         string
	Filename   string
	Records    int
	Mapped     int
	Failed     int
	Matches    []mapper.Match
	Table      *mapper.Table
	Tally      mapper.Tally
	Coverage   mapper.Coverage
	Layer      mapper.Layer
	LayerJSON  []byte
	MatrixHTML string
	Elapsed    time.Duration
}

// CSV renders the augmented table.
func (r *Result) CSV() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Table.WriteCSV(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Session memoizes the indexed taxonomy for a mapper.Service.
type Session struct {
	svc    *mapper.Service
	load   Loader
	layer  mapper.LayerOptions
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	loaded     bool
	generation uint64
	loadedAt   time.Time
}

// NewSession wires a service to a taxonomy loader. A nil logger discards output.
func NewSession(svc *mapper.Service, load Loader, layer mapper.LayerOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		svc:    svc,
		load:   load,
		layer:  layer,
		logger: logger,
		now:    time.Now,
	}
}

// Service exposes the underlying matcher.
func (s *Session) Service() *mapper.Service { return s.svc }

// Invalidate drops the cached taxonomy; the next request reloads it.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.generation++
	s.mu.Unlock()
	s.logger.Info("taxonomy cache invalidated")
}

// LoadedAt reports when the current taxonomy was indexed, zero if not loaded.
func (s *Session) LoadedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return time.Time{}
	}
	return s.loadedAt
}

// Ensure loads and indexes the taxonomy unless it is already cached.
// Concurrent callers share a single load.
func (s *Session) Ensure(ctx context.Context) (*mapper.Taxonomy, error) {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return s.svc.Taxonomy(), nil
	}
	gen := s.generation
	s.mu.Unlock()

	_, err, _ := s.group.Do(fmt.Sprintf("taxonomy-%d", gen), func() (any, error) {
		started := time.Now()
		tax, err := s.load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load taxonomy: %w", err)
		}
		if err := s.svc.LoadTaxonomy(ctx, tax); err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.generation == gen {
			s.loaded = true
			s.loadedAt = s.now()
		}
		s.mu.Unlock()
		s.logger.Info("taxonomy ready", "techniques", tax.Len(), "elapsed", time.Since(started).Round(time.Millisecond))
		return nil, nil
	})
	if err != nil {
		s.logger.Error("taxonomy unavailable", "err", err)
		return nil, err
	}
	return s.svc.Taxonomy(), nil
}

// Process reads a delimited file and runs the full pipeline over it.
func (s *Session) Process(ctx context.Context, r io.Reader, filename string) (*Result, error) {
	tbl, err := mapper.ReadTable(r, mapper.CommaFor(filename))
	if err != nil {
		return nil, err
	}
	return s.ProcessTable(ctx, tbl, filename)
}

// ProcessTable validates the description column before any other work, so a
// rejected file never touches the taxonomy or the table.
func (s *Session) ProcessTable(ctx context.Context, tbl *mapper.Table, filename string) (*Result, error) {
	started := time.Now()
	descriptions, err := tbl.Descriptions()
	if err != nil {
		return nil, err
	}
	tax, err := s.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	matches := s.svc.MatchAll(ctx, descriptions)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	augmented, err := tbl.Augment(matches)
	if err != nil {
		return nil, err
	}
	tally := mapper.TallyMatches(matches)
	layer := mapper.BuildLayer(tally, s.layer, s.now())
	layerJSON, err := layer.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode layer: %w", err)
	}
	matrix, err := mapper.RenderMatrix(tally, tax, layer.Name)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:         layer.ID,
		Filename:   filename,
		Records:    len(matches),
		Matches:    matches,
		Table:      augmented,
		Tally:      tally,
		Coverage:   mapper.ComputeCoverage(tally, tax),
		Layer:      layer,
		LayerJSON:  layerJSON,
		MatrixHTML: matrix,
	}
	for _, m := range matches {
		if m.Failed() {
			res.Failed++
		} else {
			res.Mapped++
		}
	}
	res.Elapsed = time.Since(started)
	s.logger.Info("file mapped",
		"file", filename,
		"records", res.Records,
		"mapped", res.Mapped,
		"failed", res.Failed,
		"techniques", len(tally),
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	return res, nil
}

// IsUserError reports whether err stems from the uploaded file rather than
// from the pipeline.
func IsUserError(err error) bool {
	var parseErr *csv.ParseError
	return errors.Is(err, mapper.ErrNoDescriptionColumn) ||
		errors.Is(err, mapper.ErrEmptyTable) ||
		errors.As(err, &parseErr)
}

package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yashubustudio/attackmapper/mapper"
)

var fixturePath = filepath.Join("..", "..", "mapper", "testdata", "attack-mini.json")

const useCases = `ID,Description,Owner
UC-1,Detect powershell commands run by an interpreter,soc
UC-2,Phishing email with a malicious attachment,soc
UC-3,Phishing link clicked by a user,mail
UC-4,Repeated password brute force attempts,iam
UC-5,Powershell scripts launched from the bash shell,soc
`

func newTestSession(t *testing.T, loads *atomic.Int32) *Session {
	t.Helper()
	svc, err := mapper.NewService(mapper.NewCachingEmbedder(mapper.NewLexicalBackend(1024), nil), nil)
	require.NoError(t, err)
	loader := func(ctx context.Context) (*mapper.Taxonomy, error) {
		if loads != nil {
			loads.Add(1)
		}
		return mapper.LoadTaxonomyFile(fixturePath)
	}
	s := NewSession(svc, loader, mapper.LayerOptions{}, nil)
	s.now = func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestProcessRunsPipeline(t *testing.T) {
	s := newTestSession(t, nil)
	res, err := s.Process(context.Background(), strings.NewReader(useCases), "cases.csv")
	require.NoError(t, err)

	assert.Equal(t, 5, res.Records)
	assert.Equal(t, 5, res.Mapped)
	assert.Zero(t, res.Failed)
	assert.Equal(t, mapper.Tally{"T1059": 2, "T1566": 2, "T1110": 1}, res.Tally)
	assert.Equal(t, res.Mapped, res.Tally.Total())
	assert.Equal(t, mapper.Coverage{Covered: 3, Total: 4, Percent: 75}, res.Coverage)
	assert.Equal(t, res.Layer.ID, res.ID)
	assert.Equal(t, "Security Use Cases Mapping - 2025-05-01", res.Layer.Name)
	assert.Contains(t, string(res.LayerJSON), `"techniqueID": "T1059"`)
	assert.Contains(t, res.MatrixHTML, `<div class="technique-count">2</div>`)

	data, err := res.CSV()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "ID,Description,Owner,Mapped MITRE Tactic(s)"))
	assert.Contains(t, lines[2], "T1566 - Phishing")
}

func TestProcessIsRepeatable(t *testing.T) {
	s := newTestSession(t, nil)
	first, err := s.Process(context.Background(), strings.NewReader(useCases), "cases.csv")
	require.NoError(t, err)
	second, err := s.Process(context.Background(), strings.NewReader(useCases), "cases.csv")
	require.NoError(t, err)
	assert.Equal(t, first.Tally, second.Tally)
	assert.Equal(t, first.MatrixHTML, second.MatrixHTML)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestProcessRejectsMissingDescription(t *testing.T) {
	var loads atomic.Int32
	s := newTestSession(t, &loads)
	_, err := s.Process(context.Background(), strings.NewReader("ID,Summary\n1,phishing\n"), "cases.csv")
	require.ErrorIs(t, err, mapper.ErrNoDescriptionColumn)
	assert.True(t, IsUserError(err))
	assert.Zero(t, loads.Load(), "no taxonomy work for a rejected file")
}

func TestProcessReportsTaxonomyFailure(t *testing.T) {
	svc, err := mapper.NewService(mapper.NewCachingEmbedder(mapper.NewLexicalBackend(64), nil), nil)
	require.NoError(t, err)
	s := NewSession(svc, func(ctx context.Context) (*mapper.Taxonomy, error) {
		return nil, errors.New("connection refused")
	}, mapper.LayerOptions{}, nil)

	_, err = s.Process(context.Background(), strings.NewReader(useCases), "cases.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, IsUserError(err))
	assert.True(t, s.LoadedAt().IsZero())
}

func TestEnsureLoadsOnceAcrossCallers(t *testing.T) {
	var loads atomic.Int32
	s := newTestSession(t, &loads)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tax, err := s.Ensure(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 4, tax.Len())
		}()
	}
	wg.Wait()
	_, err := s.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())
	assert.False(t, s.LoadedAt().IsZero())
}

func TestInvalidateForcesReload(t *testing.T) {
	var loads atomic.Int32
	s := newTestSession(t, &loads)
	_, err := s.Ensure(context.Background())
	require.NoError(t, err)

	s.Invalidate()
	assert.True(t, s.LoadedAt().IsZero())
	_, err = s.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(fmt.Errorf("read table: %w", &csv.ParseError{Line: 2, Err: csv.ErrQuote})))
	assert.True(t, IsUserError(mapper.ErrEmptyTable))
	assert.False(t, IsUserError(errors.New("boom")))
}

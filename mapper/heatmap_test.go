package mapper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketBoundaries(t *testing.T) {
	cases := []struct {
		count, max, level int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{2, 10, 2},
		{3, 10, 2},
		{4, 10, 3},
		{6, 10, 4},
		{7, 10, 4},
		{8, 10, 5},
		{10, 10, 5},
		{5, 0, 5},
	}
	for _, c := range cases {
		assert.Equal(t, c.level, Bucket(c.count, c.max).Level, "count=%d max=%d", c.count, c.max)
	}
}

func TestBucketOrdering(t *testing.T) {
	tally := Tally{"T1059": 3, "T1566": 1}
	max := tally.Max()
	high := Bucket(tally["T1059"], max)
	low := Bucket(tally["T1566"], max)

	assert.Equal(t, Buckets[len(Buckets)-1], high)
	assert.Greater(t, low.Level, 0)
	assert.Less(t, low.Level, high.Level)
	assert.Equal(t, "#ffffff", Bucket(0, max).Color)
}

func TestRenderMatrixFollowsKillChain(t *testing.T) {
	tax := loadFixture(t)
	out, err := RenderMatrix(Tally{"T1059": 3, "T1566": 1}, tax, "Coverage")
	require.NoError(t, err)

	last := -1
	for _, short := range []string{"initial-access", "execution", "persistence", "credential-access"} {
		pos := strings.Index(out, `data-tactic="`+short+`"`)
		require.GreaterOrEqual(t, pos, 0, short)
		assert.Greater(t, pos, last, short)
		last = pos
	}
	assert.NotContains(t, out, "mobile-only")
	assert.NotContains(t, out, "T1059.001")
}

func TestRenderMatrixBadgesOnlyCoveredTechniques(t *testing.T) {
	tax := loadFixture(t)
	out, err := RenderMatrix(Tally{"T1059": 3, "T1566": 1}, tax, "Coverage")
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(out, `<div class="technique-count">`))
	assert.Contains(t, out, `<div class="technique-count">3</div>`)
	assert.Contains(t, out, `<div class="technique-count">1</div>`)
	assert.Contains(t, out, `title="Phishing (T1566)"`)
	assert.Contains(t, out, "background-color: #ff6666;")
	// T1078 appears under two tactics, uncovered both times.
	assert.Equal(t, 2, strings.Count(out, `<div class="technique-id">T1078</div>`))
}

func TestRenderMatrixEscapesNames(t *testing.T) {
	tax := NewTaxonomy(
		[]Tactic{{ID: "TA0002", Name: "Execution", ShortName: "execution"}},
		[]Technique{{ID: "T0001", Name: `<script>alert("x")</script>`, Tactics: []string{"execution"}}},
	)
	out, err := RenderMatrix(nil, tax, "t")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>alert")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestRenderMatrixIsPure(t *testing.T) {
	tax := loadFixture(t)
	tally := Tally{"T1110": 2}
	a, err := RenderMatrix(tally, tax, "x")
	require.NoError(t, err)
	b, err := RenderMatrix(tally, tax, "x")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = RenderMatrix(tally, nil, "x")
	assert.ErrorIs(t, err, ErrNoTaxonomy)
}

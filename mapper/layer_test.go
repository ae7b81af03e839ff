package mapper

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var layerDate = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestBuildLayerMetadata(t *testing.T) {
	layer := BuildLayer(Tally{"T1566": 1, "T1059": 3}, LayerOptions{}, layerDate)

	_, err := uuid.Parse(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Security Use Cases Mapping - 2025-03-14", layer.Name)
	assert.Equal(t, "Mapping of security use cases to MITRE ATT&CK techniques, generated on 2025-03-14", layer.Description)
	assert.Equal(t, LayerVersions{Attack: "17", Navigator: "4.8.1", Layer: "4.4"}, layer.Versions)
	assert.Equal(t, "enterprise-attack", layer.Domain)
	assert.Equal(t, DefaultPlatforms, layer.Filters.Platforms)
	assert.Equal(t, LayerLayout{Layout: "side", AggregateFunction: "max", ShowID: true, ShowName: true, ShowAggregateScores: true}, layer.Layout)
	assert.Equal(t, LayerGradient{Colors: []string{"#ffffff", "#66b1ff", "#0d4a90"}, MinValue: 0, MaxValue: 3}, layer.Gradient)
	assert.True(t, layer.ShowTacticRowBackground)
	assert.Equal(t, "#dddddd", layer.TacticRowBackground)
	assert.True(t, layer.SelectTechniquesAcrossTactics)
	assert.False(t, layer.SelectSubtechniquesWithParent)

	require.Len(t, layer.Techniques, 2)
	assert.Equal(t, LayerTechnique{
		TechniqueID: "T1059",
		Score:       3,
		Comment:     "Count: 3",
		Enabled:     true,
		Metadata:    []any{},
		Links:       []any{},
	}, layer.Techniques[0])
	assert.Equal(t, "T1566", layer.Techniques[1].TechniqueID)
}

func TestBuildLayerEmptyTally(t *testing.T) {
	layer := BuildLayer(nil, LayerOptions{}, layerDate)
	assert.Equal(t, 1, layer.Gradient.MaxValue)
	assert.Empty(t, layer.Techniques)

	data, err := layer.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"techniques": []`)
	assert.Contains(t, string(data), `"legendItems": []`)
}

func TestBuildLayerHonoursOptions(t *testing.T) {
	layer := BuildLayer(Tally{"T1059": 1}, LayerOptions{
		Title:         "SOC Detections",
		AttackVersion: "16",
		Platforms:     []string{"Linux"},
	}, layerDate)
	assert.Equal(t, "SOC Detections - 2025-03-14", layer.Name)
	assert.Equal(t, "16", layer.Versions.Attack)
	assert.Equal(t, "4.8.1", layer.Versions.Navigator)
	assert.Equal(t, []string{"Linux"}, layer.Filters.Platforms)
}

func TestLayerJSONFieldNames(t *testing.T) {
	data, err := BuildLayer(Tally{"T1059": 2}, LayerOptions{}, layerDate).JSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{
		"name", "versions", "domain", "description", "filters", "sorting", "layout",
		"hideDisabled", "techniques", "gradient", "legendItems", "metadata", "links",
		"showTacticRowBackground", "tacticRowBackground", "selectTechniquesAcrossTactics",
		"selectSubtechniquesWithParent",
	} {
		assert.Contains(t, doc, key)
	}
	assert.NotContains(t, doc, "ID")
	tech := doc["techniques"].([]any)[0].(map[string]any)
	assert.Equal(t, "T1059", tech["techniqueID"])
	assert.Equal(t, float64(2), tech["score"])
	assert.Equal(t, "", tech["color"])
	assert.Equal(t, false, tech["showSubtechniques"])
}

func TestParseLayerRecoversTally(t *testing.T) {
	want := Tally{"T1059": 3, "T1566": 1}
	data, err := BuildLayer(want, LayerOptions{}, layerDate).JSON()
	require.NoError(t, err)

	layer, err := ParseLayer(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, layer.Tally())
}

func TestLayerTallyFromNavigatorExport(t *testing.T) {
	doc := `{"name":"x","techniques":[
		{"techniqueID":"T1059","score":2.6},
		{"techniqueID":"T1059","tactic":"execution","score":1},
		{"techniqueID":"T1566","score":0},
		{"techniqueID":"","score":4}
	]}`
	layer, err := ParseLayer(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, Tally{"T1059": 3}, layer.Tally())

	_, err = ParseLayer(strings.NewReader("{"))
	assert.Error(t, err)
}

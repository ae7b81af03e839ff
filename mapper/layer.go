package mapper

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
)

// LayerOptions holds the fixed metadata written into navigator layers.
type LayerOptions struct {
	Title            string   `json:"title" yaml:"title"`
	AttackVersion    string   `json:"attackVersion" yaml:"attackVersion"`
	NavigatorVersion string   `json:"navigatorVersion" yaml:"navigatorVersion"`
	LayerVersion     string   `json:"layerVersion" yaml:"layerVersion"`
	Domain           string   `json:"domain" yaml:"domain"`
	Platforms        []string `json:"platforms" yaml:"platforms"`
	GradientColors   []string `json:"gradientColors" yaml:"gradientColors"`
}

// DefaultPlatforms is the navigator platform filter list.
var DefaultPlatforms = []string{
	"Linux", "macOS", "Windows", "Network", "PRE", "Containers",
	"Office 365", "SaaS", "IaaS", "Google Workspace", "Azure AD",
}

func (o *LayerOptions) applyDefaults() {
	if o.Title == "" {
		o.Title = "Security Use Cases Mapping"
	}
	if o.AttackVersion == "" {
		o.AttackVersion = "17"
	}
	if o.NavigatorVersion == "" {
		o.NavigatorVersion = "4.8.1"
	}
	if o.LayerVersion == "" {
		o.LayerVersion = "4.4"
	}
	if o.Domain == "" {
		o.Domain = "enterprise-attack"
	}
	if len(o.Platforms) == 0 {
		o.Platforms = append([]string(nil), DefaultPlatforms...)
	}
	if len(o.GradientColors) == 0 {
		o.GradientColors = []string{"#ffffff", "#66b1ff", "#0d4a90"}
	}
}

// Layer is an ATT&CK Navigator layer document.
type Layer struct {
	// ID identifies the export; it is not part of the navigator format.
	ID string `json:"-"`

	Name                          string           `json:"name"`
	Versions                      LayerVersions    `json:"versions"`
	Domain                        string           `json:"domain"`
	Description                   string           `json:"description"`
	Filters                       LayerFilters     `json:"filters"`
	Sorting                       int              `json:"sorting"`
	Layout                        LayerLayout      `json:"layout"`
	HideDisabled                  bool             `json:"hideDisabled"`
	Techniques                    []LayerTechnique `json:"techniques"`
	Gradient                      LayerGradient    `json:"gradient"`
	LegendItems                   []any            `json:"legendItems"`
	Metadata                      []any            `json:"metadata"`
	Links                         []any            `json:"links"`
	ShowTacticRowBackground       bool             `json:"showTacticRowBackground"`
	TacticRowBackground           string           `json:"tacticRowBackground"`
	SelectTechniquesAcrossTactics bool             `json:"selectTechniquesAcrossTactics"`
	SelectSubtechniquesWithParent bool             `json:"selectSubtechniquesWithParent"`
}

// LayerVersions pins the ATT&CK, Navigator and layer format versions.
type LayerVersions struct {
	Attack    string `json:"attack"`
	Navigator string `json:"navigator"`
	Layer     string `json:"layer"`
}

// LayerFilters restricts the layer to the listed platforms.
type LayerFilters struct {
	Platforms []string `json:"platforms"`
}

// LayerLayout controls how the Navigator draws technique cells.
type LayerLayout struct {
	Layout              string `json:"layout"`
	AggregateFunction   string `json:"aggregateFunction"`
	ShowID              bool   `json:"showID"`
	ShowName            bool   `json:"showName"`
	ShowAggregateScores bool   `json:"showAggregateScores"`
	CountUnscored       bool   `json:"countUnscored"`
}

// LayerTechnique is one scored technique; Score is its use case count.
type LayerTechnique struct {
	TechniqueID       string  `json:"techniqueID"`
	Score             float64 `json:"score"`
	Color             string  `json:"color"`
	Comment           string  `json:"comment"`
	Enabled           bool    `json:"enabled"`
	Metadata          []any   `json:"metadata"`
	Links             []any   `json:"links"`
	ShowSubtechniques bool    `json:"showSubtechniques"`
}

// LayerGradient maps scores from MinValue to MaxValue onto Colors.
type LayerGradient struct {
	Colors   []string `json:"colors"`
	MinValue int      `json:"minValue"`
	MaxValue int      `json:"maxValue"`
}

// BuildLayer converts a tally into a navigator layer dated now.
func BuildLayer(tally Tally, opts LayerOptions, now time.Time) Layer {
	opts.applyDefaults()
	date := now.Format("2006-01-02")

	techniques := make([]LayerTechnique, 0, len(tally))
	for _, id := range tally.IDs() {
		count := tally[id]
		techniques = append(techniques, LayerTechnique{
			TechniqueID: id,
			Score:       float64(count),
			Color:       "",
			Comment:     fmt.Sprintf("Count: %d", count),
			Enabled:     true,
			Metadata:    []any{},
			Links:       []any{},
		})
	}
	max := tally.Max()
	if max == 0 {
		max = 1
	}
	return Layer{
		ID:          uuid.NewString(),
		Name:        fmt.Sprintf("%s - %s", opts.Title, date),
		Versions:    LayerVersions{Attack: opts.AttackVersion, Navigator: opts.NavigatorVersion, Layer: opts.LayerVersion},
		Domain:      opts.Domain,
		Description: fmt.Sprintf("Mapping of security use cases to MITRE ATT&CK techniques, generated on %s", date),
		Filters:     LayerFilters{Platforms: append([]string(nil), opts.Platforms...)},
		Layout: LayerLayout{
			Layout:              "side",
			AggregateFunction:   "max",
			ShowID:              true,
			ShowName:            true,
			ShowAggregateScores: true,
		},
		Techniques: techniques,
		Gradient: LayerGradient{
			Colors:   append([]string(nil), opts.GradientColors...),
			MaxValue: max,
		},
		LegendItems:                   []any{},
		Metadata:                      []any{},
		Links:                         []any{},
		ShowTacticRowBackground:       true,
		TacticRowBackground:           "#dddddd",
		SelectTechniquesAcrossTactics: true,
	}
}

// JSON renders the layer with two-space indentation.
func (l Layer) JSON() ([]byte, error) {
	return json.MarshalIndent(l, "", "  ")
}

// ParseLayer decodes a navigator layer document.
func ParseLayer(r io.Reader) (Layer, error) {
	var l Layer
	if err := json.NewDecoder(r).Decode(&l); err != nil {
		return Layer{}, fmt.Errorf("decode layer: %w", err)
	}
	return l, nil
}

// Tally recovers per-technique counts from the layer scores. Non-positive
// entries are skipped; repeated IDs keep the highest score.
func (l Layer) Tally() Tally {
	t := make(Tally, len(l.Techniques))
	for _, tech := range l.Techniques {
		score := int(math.Round(tech.Score))
		if score <= 0 || tech.TechniqueID == "" {
			continue
		}
		if score > t[tech.TechniqueID] {
			t[tech.TechniqueID] = score
		}
	}
	return t
}

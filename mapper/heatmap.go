package mapper

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
)

// HeatBucket is one severity band of the coverage matrix.
type HeatBucket struct {
	Level int    `json:"level"`
	Color string `json:"color"`
	Label string `json:"label"`
}

// Buckets lists the six bands from no coverage to very high.
var Buckets = []HeatBucket{
	{Level: 0, Color: "#ffffff", Label: "No Coverage"},
	{Level: 1, Color: "#d6f5d6", Label: "Very Low"},
	{Level: 2, Color: "#adebad", Label: "Low"},
	{Level: 3, Color: "#ffcc66", Label: "Medium"},
	{Level: 4, Color: "#ffb366", Label: "High"},
	{Level: 5, Color: "#ff6666", Label: "Very High"},
}

// Bucket maps count relative to max onto a band: 0, <20%, 20-40%, 40-60%,
// 60-80% and >=80%.
func Bucket(count, max int) HeatBucket {
	if count <= 0 {
		return Buckets[0]
	}
	if max < count {
		max = count
	}
	ratio := float64(count) / float64(max)
	switch {
	case ratio < 0.2:
		return Buckets[1]
	case ratio < 0.4:
		return Buckets[2]
	case ratio < 0.6:
		return Buckets[3]
	case ratio < 0.8:
		return Buckets[4]
	default:
		return Buckets[5]
	}
}

//go:embed templates/matrix.html
var matrixSource string

var matrixTemplate = template.Must(template.New("matrix").Funcs(template.FuncMap{
	"safeCSS": func(s string) template.CSS { return template.CSS(s) },
}).Parse(matrixSource))

type matrixCell struct {
	ID    string
	Name  string
	Count int
	Color string
}

type matrixRow struct {
	Name      string
	ShortName string
	Cells     []matrixCell
}

type matrixView struct {
	Title  string
	Legend []HeatBucket
	Rows   []matrixRow
}

// RenderMatrix lays out tactics in kill-chain order with one colored cell per
// technique. The output depends only on its arguments.
func RenderMatrix(tally Tally, tax *Taxonomy, title string) (string, error) {
	if tax == nil {
		return "", ErrNoTaxonomy
	}
	max := tally.Max()
	view := matrixView{Title: title, Legend: Buckets}
	for _, col := range tax.Ordered() {
		row := matrixRow{Name: col.Tactic.Name, ShortName: col.Tactic.ShortName}
		for _, tech := range col.Techniques {
			count := tally[tech.ID]
			row.Cells = append(row.Cells, matrixCell{
				ID:    tech.ID,
				Name:  tech.Name,
				Count: count,
				Color: Bucket(count, max).Color,
			})
		}
		view.Rows = append(view.Rows, row)
	}
	var buf bytes.Buffer
	if err := matrixTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render matrix: %w", err)
	}
	return buf.String(), nil
}

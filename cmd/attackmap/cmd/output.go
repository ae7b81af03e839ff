package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"yashubustudio/attackmapper/internal/app"
	"yashubustudio/attackmapper/mapper"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF"))

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	idStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#88C0D0"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF8C00"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#666666"))
)

// bucketStyle colors a count the way the HTML matrix does.
func bucketStyle(count, max int) lipgloss.Style {
	b := mapper.Bucket(count, max)
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color(b.Color))
}

func printSummary(w io.Writer, res *app.Result, tax *mapper.Taxonomy, top int) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s: %d use cases", res.Filename, res.Records)))
	fmt.Fprintf(w, "  mapped %d", res.Mapped)
	if res.Failed > 0 {
		fmt.Fprint(w, warnStyle.Render(fmt.Sprintf("  unmapped %d", res.Failed)))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, subtleStyle.Render(fmt.Sprintf("  %d of %d techniques covered (%.1f%%)",
		res.Coverage.Covered, res.Coverage.Total, res.Coverage.Percent)))

	ranked := res.Tally.Ranked()
	if len(ranked) == 0 {
		return
	}
	if top > 0 && len(ranked) > top {
		ranked = ranked[:top]
	}
	max := res.Tally.Max()
	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Top techniques"))
	for _, e := range ranked {
		name := ""
		if tech, ok := tax.Technique(e.ID); ok {
			name = tech.Name
		}
		fmt.Fprintf(w, "  %s %s %s\n",
			bucketStyle(e.Count, max).Render(fmt.Sprintf(" %3d ", e.Count)),
			idStyle.Render(fmt.Sprintf("%-6s", e.ID)),
			name)
	}
}

func printTactics(w io.Writer, tax *mapper.Taxonomy) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d tactics, %d techniques", len(tax.Tactics), tax.Len())))
	for _, col := range tax.Ordered() {
		fmt.Fprintf(w, "  %s %-22s %s\n",
			idStyle.Render(fmt.Sprintf("%-6s", col.Tactic.ID)),
			col.Tactic.Name,
			subtleStyle.Render(fmt.Sprintf("%d techniques", len(col.Techniques))))
	}
}

func printTechniques(w io.Writer, tax *mapper.Taxonomy, tactic mapper.Tactic) {
	fmt.Fprintln(w, headerStyle.Render(tactic.Name))
	for _, col := range tax.Ordered() {
		if col.Tactic.ShortName != tactic.ShortName {
			continue
		}
		for _, tech := range col.Techniques {
			fmt.Fprintf(w, "  %s %s\n", idStyle.Render(fmt.Sprintf("%-6s", tech.ID)), tech.Name)
		}
	}
}

// plural formats n with the singular word, adding an "s" unless n is 1.
func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

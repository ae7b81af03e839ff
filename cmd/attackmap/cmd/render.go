package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yashubustudio/attackmapper/mapper"
)

var (
	renderOutput string
	renderTitle  string
)

var renderCmd = &cobra.Command{
	Use:   "render <layer.json>",
	Short: "Render an HTML heat map from an existing Navigator layer",
	Long:  "Technique scores in the layer are used as counts. Techniques missing from the current taxonomy are ignored.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

func init() {
	f := renderCmd.Flags()
	f.StringVarP(&renderOutput, "output", "o", "attack_matrix.html", "HTML output path")
	f.StringVar(&renderTitle, "title", "", "Matrix title (default: the layer name)")
}

func runRender(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open layer: %w", err)
	}
	defer f.Close()
	layer, err := mapper.ParseLayer(f)
	if err != nil {
		return err
	}

	tax, err := mapper.LoadTaxonomy(context.Background(), cfg.Taxonomy)
	if err != nil {
		return err
	}
	tally := layer.Tally().Restrict(tax)
	title := orDefault(renderTitle, layer.Name)
	html, err := mapper.RenderMatrix(tally, tax, title)
	if err != nil {
		return err
	}
	if err := os.WriteFile(renderOutput, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write matrix: %w", err)
	}

	cov := mapper.ComputeCoverage(tally, tax)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
		titleStyle.Render(renderOutput),
		subtleStyle.Render(fmt.Sprintf("%d of %d techniques covered (%.1f%%)", cov.Covered, cov.Total, cov.Percent)))
	return nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"yashubustudio/attackmapper/mapper"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy [tactic]",
	Short: "List tactics in kill-chain order, or the techniques of one tactic",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaxonomy,
}

func runTaxonomy(cmd *cobra.Command, args []string) error {
	tax, err := mapper.LoadTaxonomy(context.Background(), cfg.Taxonomy)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		printTactics(out, tax)
		return nil
	}
	tactic, ok := tax.Tactic(args[0])
	if !ok {
		return fmt.Errorf("unknown tactic %q", args[0])
	}
	printTechniques(out, tax, tactic)
	return nil
}

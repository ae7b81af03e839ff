package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"yashubustudio/attackmapper/internal/app"
	"yashubustudio/attackmapper/mapper"
)

var (
	mapOutDir   string
	mapCSVPath  string
	mapLayer    string
	mapMatrix   string
	mapTop      int
	mapNoMatrix bool
)

var mapCmd = &cobra.Command{
	Use:   "map <file.csv>",
	Short: "Map a CSV of use cases and write the augmented CSV, layer and heat map",
	Long: "Reads a CSV or TSV with a Description (or description) column, matches every row to its closest ATT&CK technique " +
		"and writes the augmented table, a Navigator layer and an HTML coverage matrix.",
	Args: cobra.ExactArgs(1),
	RunE: runMap,
}

func init() {
	f := mapCmd.Flags()
	f.StringVarP(&mapOutDir, "out-dir", "o", ".", "Directory for generated files")
	f.StringVar(&mapCSVPath, "csv", "", "Augmented CSV path (default: <out-dir>/<name>_mitre_mapped.csv)")
	f.StringVar(&mapLayer, "layer", "", "Navigator layer path (default: <out-dir>/mitre_navigator_layer.json)")
	f.StringVar(&mapMatrix, "matrix", "", "HTML matrix path (default: <out-dir>/attack_matrix.html)")
	f.BoolVar(&mapNoMatrix, "no-matrix", false, "Skip the HTML matrix")
	f.IntVar(&mapTop, "top", 10, "Techniques listed in the summary (0 = all)")
}

func runMap(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	input := args[0]
	tbl, err := mapper.ReadTableFile(input)
	if err != nil {
		return err
	}
	res, err := rt.session.ProcessTable(ctx, tbl, filepath.Base(input))
	if err != nil {
		return err
	}

	outputs, err := writeOutputs(res, input)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSummary(out, res, rt.session.Service().Taxonomy(), mapTop)
	fmt.Fprintln(out)
	fmt.Fprintln(out, subtleStyle.Render("wrote "+plural(len(outputs), "file")))
	for _, p := range outputs {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}

func writeOutputs(res *app.Result, input string) ([]string, error) {
	if err := os.MkdirAll(mapOutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	csvPath := orDefault(mapCSVPath, filepath.Join(mapOutDir, base+"_mitre_mapped.csv"))
	layerPath := orDefault(mapLayer, filepath.Join(mapOutDir, "mitre_navigator_layer.json"))
	matrixPath := orDefault(mapMatrix, filepath.Join(mapOutDir, "attack_matrix.html"))

	data, err := res.CSV()
	if err != nil {
		return nil, err
	}
	files := []struct {
		path string
		data []byte
	}{
		{csvPath, data},
		{layerPath, res.LayerJSON},
	}
	if !mapNoMatrix {
		files = append(files, struct {
			path string
			data []byte
		}{matrixPath, []byte(res.MatrixHTML)})
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", f.path, err)
		}
		written = append(written, f.path)
	}
	return written, nil
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

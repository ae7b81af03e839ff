package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"yashubustudio/attackmapper/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the persistent embedding cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many vectors the cache holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVectorStore(func(vs *store.VectorStore) error {
			n, err := vs.Len()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.Embedder.CachePath, plural(n, "vector"))
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached vector",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVectorStore(func(vs *store.VectorStore) error {
			n, err := vs.Len()
			if err != nil {
				return err
			}
			if err := vs.Clear(); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			logger.Info("vector cache cleared", "path", cfg.Embedder.CachePath, "removed", n)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", plural(n, "vector"))
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func withVectorStore(fn func(*store.VectorStore) error) error {
	if cfg.Embedder.CachePath == "" {
		return errors.New("no cache configured: set embedder.cachePath")
	}
	vs, err := store.Open(cfg.Embedder.CachePath)
	if err != nil {
		return fmt.Errorf("open vector cache: %w", err)
	}
	defer vs.Close()
	return fn(vs)
}

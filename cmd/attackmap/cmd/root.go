package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"yashubustudio/attackmapper/internal/app"
	"yashubustudio/attackmapper/internal/store"
	"yashubustudio/attackmapper/mapper"
)

// version is overridden at build time with -ldflags.
var version = "dev"

var (
	configPath string
	logLevel   string

	cfg    mapper.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "attackmap",
	Short:         "Map security use cases to MITRE ATT&CK techniques",
	Long:          "Match free-text use case descriptions to ATT&CK techniques by embedding similarity and export heat maps and Navigator layers.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseLevel(logLevel)
		if err != nil {
			return err
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		cfg, err = mapper.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg.ApplyEnv()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "attackmap: %v\n", err)
	}
	return err
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "Path to config.json or config.yaml (default: ./config.json)")
	f.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(taxonomyCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return level, fmt.Errorf("invalid --log-level %q", s)
	}
	return level, nil
}

// runtime bundles the session with the resources it holds open.
type runtime struct {
	session *app.Session
	vectors *store.VectorStore
}

func (r *runtime) Close() error {
	err := r.session.Service().Close()
	if r.vectors != nil {
		if cerr := r.vectors.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// openRuntime builds the embedder, its optional persistent cache and a
// session loading the configured taxonomy.
func openRuntime() (*runtime, error) {
	rt := &runtime{}
	var cache mapper.VectorCache
	if cfg.Embedder.CachePath != "" {
		vs, err := store.Open(cfg.Embedder.CachePath)
		if err != nil {
			return nil, fmt.Errorf("open vector cache: %w", err)
		}
		rt.vectors = vs
		cache = vs
	}
	embedder, err := mapper.NewEmbedder(cfg.Embedder, cache)
	if err != nil {
		if rt.vectors != nil {
			_ = rt.vectors.Close()
		}
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	svc, err := mapper.NewService(embedder, logger)
	if err != nil {
		_ = embedder.Close()
		if rt.vectors != nil {
			_ = rt.vectors.Close()
		}
		return nil, err
	}
	rt.session = app.NewSession(svc, app.ConfigLoader(cfg.Taxonomy), cfg.Layer, logger)
	logger.Debug("runtime ready", "model", svc.ModelID(), "gpu", embedder.UsingGPU(), "cache", cfg.Embedder.CachePath)
	return rt, nil
}

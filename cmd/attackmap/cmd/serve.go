package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"yashubustudio/attackmapper/internal/app"
	"yashubustudio/attackmapper/internal/server"
)

var (
	serveAddr    string
	servePreload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload web UI and JSON API",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	f.BoolVar(&servePreload, "preload", false, "Load and index the taxonomy before accepting requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if servePreload {
		if _, err := rt.session.Ensure(ctx); err != nil {
			return err
		}
	}

	results := server.NewMemoryResultStore(cfg.Server.ResultTTL.Std())
	if cfg.Server.RedisURL != "" {
		results = server.NewRedisResultStore(cfg.Server.RedisURL, cfg.Server.ResultTTL.Std())
		logger.Info("storing results in redis")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(cfg.Server, rt.session, server.Options{
		Results:  results,
		Registry: reg,
		Logger:   logger,
	})

	if cfg.Server.WatchTaxonomy && cfg.Taxonomy.Path != "" {
		w, err := app.WatchFile(cfg.Taxonomy.Path, func() { srv.InvalidateTaxonomy("watch") }, logger)
		if err != nil {
			return fmt.Errorf("watch taxonomy: %w", err)
		}
		defer w.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := srv.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

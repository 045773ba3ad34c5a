package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run only the HTTP API and event stream",
	Long: "Serve the JSON API and the live event stream. With relay.backend: memory " +
		"only events from this process reach clients; use redis to relay events from separate workers.",
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustLoad(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.Relay.Backend == "memory" {
		logger.Warn("relay backend is memory; events from other processes will not reach clients")
	}

	g, gctx := errgroup.WithContext(ctx)
	serve(g, gctx, a)
	notifyReady(logger)
	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
	return nil
}

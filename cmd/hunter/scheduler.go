package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run only the scan scheduler",
	Long: "Dispatch due board scans and fail stale applications on every tick. " +
		"Pair with one or more `hunter worker` processes sharing the same queue.",
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
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

	if err := syncBoards(ctx, a.store, cfg, logger); err != nil {
		logger.Error("failed to sync boards", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := watchBoards(ctx, a.store, logger); err != nil {
			logger.Warn("config watch disabled", "error", err)
		}
	}()

	notifyReady(logger)
	if err := a.newScheduler().Run(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
	return nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the task workers",
	Long:  "Claim scan and auto-apply tasks from the queue; blocks until SIGINT/SIGTERM.",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	driver := a.newDriver()
	defer driver.Close()

	notifyReady(logger)
	if err := a.newPool(driver).Run(ctx); err != nil {
		logger.Error("worker pool error", "error", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
	return nil
}

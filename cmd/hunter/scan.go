package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var scanInline bool

var scanCmd = &cobra.Command{
	Use:   "scan <board-name>",
	Short: "Scan one board now",
	Long: "Queue a scan of the named board for the workers. With --inline the scan runs in " +
		"this process and the new listings are printed.",
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanInline, "inline", false, "run the scan in this process instead of queueing it")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
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
	board, err := a.store.GetBoardByName(ctx, args[0])
	if err != nil {
		return fmt.Errorf("board %q: %w", args[0], err)
	}

	if !scanInline {
		ref, err := a.svc.DispatchScan(ctx, board.ID)
		if err != nil {
			return err
		}
		fmt.Printf("scan of %s queued (task %s)\n", board.Name, ref)
		return nil
	}

	claimed, err := a.store.ClaimScan(ctx, board.ID, time.Now(), cfg.Scheduler.StaleRunningTimeout)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("a scan of %s is already running", board.Name)
	}

	driver := a.newDriver()
	defer driver.Close()
	res, err := a.newScanRunner(driver).Run(ctx, board.ID)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s: %d scraped, %d matched, %d new\n\n", board.Name, res.Scraped, res.Matched, len(res.New))
	for _, l := range res.New {
		fmt.Printf("  [%3d] %s, %s (%s)\n        %s\n", l.MatchScore, l.Title, l.Company, l.Location, l.URL)
	}
	return nil
}

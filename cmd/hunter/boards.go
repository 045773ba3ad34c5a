package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List boards and their last scan",
	Long:  "Syncs the configured boards into the database and prints a table of them.",
	RunE:  runBoards,
}

func init() {
	rootCmd.AddCommand(boardsCmd)
}

func runBoards(cmd *cobra.Command, args []string) error {
	logger := silentLogger()
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := syncBoards(ctx, a.store, cfg, logger); err != nil {
		return err
	}

	boards, err := a.svc.Boards(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %-11s %-8s %-9s %-17s %s\n", "Board", "Strategy", "Status", "Interval", "Last scan", "Found")
	fmt.Println(strings.Repeat("─", 78))

	enabled := 0
	for _, b := range boards {
		status := "enabled"
		if !b.Enabled {
			status = "disabled"
		} else {
			enabled++
		}
		last := string(b.LastScanStatus)
		if b.LastScannedAt != nil {
			last = b.LastScannedAt.Local().Format("01-02 15:04") + " " + last
		}
		fmt.Printf("%-20s %-11s %-8s %-9s %-17s %d\n",
			b.Name, b.Scraper.Type, status, b.ScanInterval, last, b.ListingsFound)
		if b.LastScanError != "" {
			fmt.Printf("  └ %s\n", b.LastScanError)
		}
	}

	fmt.Printf("\nTotal: %d boards (%d enabled, %d disabled)\n", len(boards), enabled, len(boards)-enabled)
	return nil
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/amishk599/hunter/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review paused applications (TUI)",
	Long:  "Opens the review queue: fill the fields the worker could not, ask AI for drafts, then submit or cancel.",
	RunE:  runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	// Always silent: log output corrupts the alt screen.
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, cfg, silentLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return review.Run(a.svc)
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amishk599/hunter/internal/model"
)

var applyCmd = &cobra.Command{
	Use:   "apply <listing-id>",
	Short: "Start an auto-apply for a listing",
	Long: "Queue an auto-apply. The worker fills the form and stops for review; " +
		"nothing is submitted until you confirm in `hunter review`.",
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <application-id>",
	Short: "Cancel an application",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var appStatuses []string

var applicationsCmd = &cobra.Command{
	Use:     "applications",
	Aliases: []string{"apps"},
	Short:   "List applications",
	RunE:    runApplications,
}

func init() {
	applicationsCmd.Flags().StringSliceVar(&appStatuses, "status", nil, "only show these statuses (repeatable)")
	rootCmd.AddCommand(applyCmd, cancelCmd, applicationsCmd)
}

// withApp loads the config and opens the shared components quietly for a
// one-shot command.
func withApp(fn func(ctx context.Context, a *app) error) error {
	logger := silentLogger()
	if debug {
		logger = setupLogger(true)
	}
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
	return fn(ctx, a)
}

func runApply(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		application, err := a.svc.DispatchAutoApply(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("application %s queued (task %s)\n", application.ID, application.QueueTaskRef)
		return nil
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		application, err := a.svc.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("application %s is %s\n", application.ID, application.Status)
		return nil
	})
}

func runApplications(cmd *cobra.Command, args []string) error {
	statuses := make([]model.AppStatus, 0, len(appStatuses))
	for _, s := range appStatuses {
		st, err := model.ParseAppStatus(s)
		if err != nil {
			return err
		}
		statuses = append(statuses, st)
	}

	return withApp(func(ctx context.Context, a *app) error {
		apps, err := a.svc.Applications(ctx, statuses...)
		if err != nil {
			return err
		}

		fmt.Printf("%-36s %-16s %-12s %s\n", "Application", "Status", "Created", "Listing")
		fmt.Println(strings.Repeat("─", 90))
		for _, app := range apps {
			title := app.ListingID
			if l, err := a.svc.Listing(ctx, app.ListingID); err == nil {
				title = fmt.Sprintf("%s, %s", l.Title, l.Company)
			}
			fmt.Printf("%-36s %-16s %-12s %s\n", app.ID, app.Status, app.CreatedAt.Local().Format("01-02 15:04"), title)
			if app.ErrorMessage != "" {
				fmt.Printf("  └ %s\n", app.ErrorMessage)
			}
		}
		fmt.Printf("\nTotal: %d applications\n", len(apps))
		return nil
	})
}

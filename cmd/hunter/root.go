package main

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/amishk599/hunter/internal/config"
	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/notifier"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "hunter",
	Short: "Job board scanner with supervised auto-apply",
	Long: "Hunter scans job boards on a schedule, scores new listings against your profile " +
		"and fills applications in a browser, pausing for your review before anything is submitted.",
	SilenceUsage: true,
	// Default to `start` so that `hunter` with no args runs every component.
	RunE: runStart,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is fine; real environment variables still apply.
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: HUNTER_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// resolveConfigPath applies the lookup order: explicit flag, then the
// HUNTER_CONFIG env var, then "./config.yaml".
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("HUNTER_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

func loadConfig(path string) (*config.Config, error) {
	return config.Load(resolveConfigPath(path))
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// silentLogger is used by the TUI: any log output before the alt screen
// starts corrupts the display.
func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupNotifier(cfg *config.Config, logger *slog.Logger) model.Notifier {
	switch cfg.Notification.Type {
	case "slack":
		logger.Info("using slack notifier")
		return notifier.NewSlackNotifier(cfg.Notification.WebhookURL, &http.Client{Timeout: 30 * time.Second}, logger)
	default:
		return notifier.NewLogNotifier(logger)
	}
}

// mustLoad loads the config or exits, logging the reason.
func mustLoad(logger *slog.Logger) *config.Config {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	return cfg
}

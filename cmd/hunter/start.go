package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amishk599/hunter/internal/relay"
	"github.com/amishk599/hunter/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run scheduler, workers and HTTP server in one process",
	Long:  "Start every component in one process; blocks until SIGINT/SIGTERM.",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
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

	driver := a.newDriver()
	defer driver.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.newPool(driver).Run(gctx) })
	g.Go(func() error { return a.newScheduler().Run(gctx) })
	serve(g, gctx, a)
	g.Go(func() error {
		if err := watchBoards(gctx, a.store, logger); err != nil {
			logger.Warn("config watch disabled", "error", err)
		}
		return nil
	})

	notifyReady(logger)
	if err := g.Wait(); err != nil {
		logger.Error("hunter stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
	return nil
}

// serve starts the HTTP server and the relay forwarder feeding its event
// stream.
func serve(g *errgroup.Group, ctx context.Context, a *app) {
	conns := relay.NewRegistry()
	g.Go(func() error { return relay.Forward(ctx, a.bus, a.cfg.Relay.Channel, conns, a.logger) })
	srv := server.New(a.svc, conns, a.blobs, a.logger)
	g.Go(func() error { return srv.ListenAndServe(ctx, a.cfg.Server.Addr) })
}

// notifyReady tells systemd (Type=notify units) that startup finished. It
// is a no-op outside systemd.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	switch {
	case err != nil:
		logger.Warn("sd_notify failed", "error", err)
	case sent:
		logger.Debug("notified systemd ready")
	}
}

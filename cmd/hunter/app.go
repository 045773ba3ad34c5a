package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/amishk599/hunter/internal/ai"
	"github.com/amishk599/hunter/internal/autoapply"
	"github.com/amishk599/hunter/internal/blob"
	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/config"
	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/profile"
	"github.com/amishk599/hunter/internal/queue"
	"github.com/amishk599/hunter/internal/ratelimit"
	"github.com/amishk599/hunter/internal/relay"
	"github.com/amishk599/hunter/internal/retry"
	"github.com/amishk599/hunter/internal/scan"
	"github.com/amishk599/hunter/internal/scheduler"
	"github.com/amishk599/hunter/internal/scraper"
	"github.com/amishk599/hunter/internal/service"
	"github.com/amishk599/hunter/internal/store"
)

// busBuffer is the per-subscriber channel size on the relay bus.
const busBuffer = 256

// app holds the components every command shares. Commands build the
// long-running pieces (pool, scheduler, server) on top of it.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.SQLStore
	queueDB  *sql.DB
	queue    *queue.Queue
	bus      relay.Bus
	events   *relay.Publisher
	profiles *profile.FileProvider
	blobs    *blob.FSStore
	notifier model.Notifier
	svc      *service.Service
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	switch cfg.Database.Driver {
	case "postgres":
		a.store, err = store.NewPostgresStore(ctx, cfg.Database.URL)
	default:
		a.store, err = store.NewSQLiteStore(ctx, cfg.Database.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a.queueDB, err = store.OpenSQLite(cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("opening queue: %w", err)
	}
	a.queue = queue.New(a.queueDB, queue.Options{
		SoftLimit: cfg.Queue.SoftTimeLimit,
		HardLimit: cfg.Queue.HardTimeLimit,
		Logger:    logger,
	})
	if err := a.queue.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("preparing queue: %w", err)
	}

	switch cfg.Relay.Backend {
	case "redis":
		a.bus, err = relay.NewRedisBus(ctx, cfg.Relay.RedisURL, busBuffer, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting relay: %w", err)
		}
	default:
		a.bus = relay.NewMemoryBus(busBuffer)
	}
	a.events = relay.NewPublisher(a.bus, cfg.Relay.Channel)

	a.blobs, err = blob.NewFSStore(cfg.Blob.Dir)
	if err != nil {
		return nil, err
	}
	a.profiles = profile.NewFileProvider(cfg.ProfilePath)
	a.notifier = setupNotifier(cfg, logger)

	assistant, err := setupAssistant(ctx, cfg.AI, logger)
	if err != nil {
		return nil, err
	}
	a.svc = service.New(a.store, a.queue, a.profiles, assistant, a.events, cfg.Scheduler.StaleRunningTimeout, logger)

	logger.Info("components ready",
		"database", cfg.Database.Driver,
		"queue", cfg.Queue.Path,
		"relay", cfg.Relay.Backend,
		"ai", cfg.AI.Enabled,
	)
	ok = true
	return a, nil
}

// Close releases everything openApp acquired. It is safe on a partially
// opened app.
func (a *app) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn("closing relay", "error", err)
		}
	}
	if a.queueDB != nil {
		a.queueDB.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func setupAssistant(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (ai.Assistant, error) {
	if !cfg.Enabled {
		return ai.NopAssistant{}, nil
	}

	var provider ai.LLMProvider
	switch cfg.Provider {
	case "gemini":
		p, err := ai.NewGeminiProvider(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("creating gemini provider: %w", err)
		}
		provider = p
	default:
		provider = ai.NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, &http.Client{Timeout: cfg.Timeout})
	}
	logger.Info("ai assist enabled", "provider", cfg.Provider, "model", cfg.Model)
	return ai.NewLLMAssistant(provider, ai.FieldAnswersTemplate, logger), nil
}

func (a *app) newDriver() browser.Driver {
	sc := a.cfg.Scraper
	if sc.Mode == "static" {
		return browser.NewStaticDriver(&http.Client{Timeout: sc.RequestTimeout}, a.logger)
	}
	return browser.NewRodDriver(browser.RodConfig{RemoteURL: sc.RemoteURL, Headless: sc.Headless}, a.logger)
}

func (a *app) newScraper(driver browser.Driver) *scraper.Scraper {
	sc := a.cfg.Scraper
	robots := scraper.NewRobotsChecker(&http.Client{Timeout: sc.RequestTimeout}, sc.RobotsUserAgent, a.logger)
	limiter := ratelimit.NewHostLimiter(sc.HostDelay, sc.HostOverrides)
	return scraper.New(driver, robots, limiter, retry.New(sc.Retries, sc.RetryBaseDelay, a.logger), scraper.Config{
		MinPageDelay:    sc.MinPageDelay,
		MaxPageDelay:    sc.MaxPageDelay,
		MinInitialDelay: sc.MinInitialDelay,
		MaxInitialDelay: sc.MaxInitialDelay,
		MaxPages:        sc.MaxPages,
	}, a.logger)
}

func (a *app) newScanRunner(driver browser.Driver) *scan.Runner {
	return scan.NewRunner(a.store, a.store, a.newScraper(driver), a.profiles, a.events, a.notifier, a.logger)
}

// newApplyRunner builds the auto-apply runner. driver may be nil when the
// runner is only used to reconcile stale applications.
func (a *app) newApplyRunner(driver browser.Driver) *autoapply.Runner {
	return autoapply.NewRunner(a.store, a.store, a.profiles, driver, a.blobs, a.events, a.notifier,
		autoapply.Config{Settle: a.cfg.AutoApply.Settle}, a.logger)
}

// newPool builds the worker pool with every task kind registered.
func (a *app) newPool(driver browser.Driver) *queue.Pool {
	scanRunner := a.newScanRunner(driver)
	applyRunner := a.newApplyRunner(driver)

	pool := queue.NewPool(a.queue, queue.PoolConfig{
		Workers:      a.cfg.Queue.Workers,
		PollInterval: a.cfg.Queue.PollInterval,
	}, a.logger)
	pool.Handle(queue.KindScanBoard, scanRunner.Handle)
	pool.Handle(queue.KindAutoApply, applyRunner.HandleStart)
	pool.Handle(queue.KindResumeApply, applyRunner.HandleResume)
	return pool
}

func (a *app) newScheduler() *scheduler.Scheduler {
	return scheduler.New(a.store, a.queue, a.newApplyRunner(nil), scheduler.Config{
		Tick:             a.cfg.Scheduler.Tick,
		StaleRunning:     a.cfg.Scheduler.StaleRunningTimeout,
		ApplicationStale: a.cfg.Scheduler.ApplicationStaleTimeout,
	}, a.logger)
}

// syncBoards upserts every configured board by name. Stored boards missing
// from the config are disabled rather than deleted so their listings stay.
func syncBoards(ctx context.Context, boards model.BoardStore, cfg *config.Config, logger *slog.Logger) error {
	configured := make(map[string]bool, len(cfg.Boards))
	var errs []error
	for _, bc := range cfg.Boards {
		configured[bc.Name] = true
		if _, err := boards.UpsertBoard(ctx, bc.Board()); err != nil {
			errs = append(errs, fmt.Errorf("board %s: %w", bc.Name, err))
		}
	}

	stored, err := boards.ListBoards(ctx)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("listing boards: %w", err))...)
	}
	for _, b := range stored {
		if configured[b.Name] || !b.Enabled {
			continue
		}
		b.Enabled = false
		if _, err := boards.UpsertBoard(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("disabling board %s: %w", b.Name, err))
			continue
		}
		logger.Info("board removed from config, disabled", "board", b.Name)
	}
	logger.Info("boards synced", "configured", len(cfg.Boards))
	return errors.Join(errs...)
}

// watchBoards re-syncs boards whenever the config file changes. Only the
// board list is hot-reloaded; other settings need a restart.
func watchBoards(ctx context.Context, boards model.BoardStore, logger *slog.Logger) error {
	path := resolveConfigPath(cfgPath)
	return config.Watch(ctx, path, logger, func(cfg *config.Config) {
		if err := syncBoards(ctx, boards, cfg, logger); err != nil {
			logger.Error("board re-sync failed", "error", err)
		}
	})
}

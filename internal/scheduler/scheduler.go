// Package scheduler periodically selects boards due for a scan and dispatches
// one scan task per board.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/queue"
)

// Enqueuer is the part of the task queue the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts ...queue.EnqueueOption) (string, error)
}

// Reconciler fails applications stranded in progress since before cutoff.
type Reconciler interface {
	Reconcile(ctx context.Context, cutoff time.Time) (int, error)
}

// Config holds the scheduler cadence and the stale-state timeouts.
type Config struct {
	Tick             time.Duration
	StaleRunning     time.Duration
	ApplicationStale time.Duration
}

// Scheduler owns the tick loop. Ticks never overlap.
type Scheduler struct {
	boards     model.BoardStore
	queue      Enqueuer
	reconciler Reconciler
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a scheduler. reconciler may be nil.
func New(boards model.BoardStore, q Enqueuer, reconciler Reconciler, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		boards:     boards,
		queue:      q,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run ticks once immediately and then every cfg.Tick until ctx is cancelled.
// It returns nil on graceful shutdown after the in-flight tick completes.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", s.cfg.Tick)
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.logger.Info("starting scheduler",
		"tick", s.cfg.Tick.String(),
		"stale_running_timeout", s.cfg.StaleRunning.String(),
	)
	s.tick(ctx)
	c.Start()

	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler tick failed", "error", err)
	}
}

// Tick dispatches a scan task for every due board and runs the application
// reconciliation sweep. It returns the number of scans dispatched.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()

	boards, err := s.boards.DueBoards(ctx, now, s.cfg.StaleRunning)
	if err != nil {
		return 0, fmt.Errorf("selecting due boards: %w", err)
	}

	dispatched := 0
	for _, b := range boards {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		ok, err := s.dispatch(ctx, b, now)
		if err != nil {
			s.logger.Error("dispatch scan failed", "board", b.Name, "error", err)
			continue
		}
		if ok {
			dispatched++
		}
	}
	if dispatched > 0 {
		s.logger.Info("dispatched scans", "count", dispatched)
	}

	var reconcileErr error
	if s.reconciler != nil && s.cfg.ApplicationStale > 0 {
		n, err := s.reconciler.Reconcile(ctx, now.Add(-s.cfg.ApplicationStale))
		if err != nil {
			reconcileErr = fmt.Errorf("reconciling applications: %w", err)
		} else if n > 0 {
			s.logger.Warn("failed stranded applications", "count", n)
		}
	}
	return dispatched, reconcileErr
}

func (s *Scheduler) dispatch(ctx context.Context, b model.Board, now time.Time) (bool, error) {
	if b.LastScanStatus == model.ScanRunning {
		s.logger.Warn("reclaiming stale running scan", "board", b.Name, "started_at", b.ScanStartedAt)
	}

	ok, err := s.boards.ClaimScan(ctx, b.ID, now, s.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Debug("board already claimed", "board", b.Name)
		return false, nil
	}

	taskID, err := s.queue.Enqueue(ctx, queue.KindScanBoard, queue.ScanBoardPayload{BoardID: b.ID})
	if err != nil {
		// Release the flag so the board is not stranded until the stale timeout.
		res := model.ScanResult{Status: model.ScanFailed, Error: "enqueue failed: " + err.Error(), FinishedAt: now}
		if ferr := s.boards.FinishScan(context.WithoutCancel(ctx), b.ID, res); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return false, fmt.Errorf("enqueue scan: %w", err)
	}
	s.logger.Debug("scan dispatched", "board", b.Name, "task_id", taskID)
	return true, nil
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Handler runs one task. Its context is cancelled at the task's hard
// ceiling and carries the soft deadline (see Checkpoint).
type Handler func(ctx context.Context, t *Task) error

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
	// Grace is how long a handler may keep running after its context is
	// cancelled before the pool stops waiting for it. An abandoned handler
	// keeps its goroutine, and any browser session it holds, until its
	// context-aware calls return; Pool.Abandoned counts those.
	Grace time.Duration
	// ReapInterval controls how often abandoned tasks are swept.
	ReapInterval time.Duration
}

func (c *PoolConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 10 * time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
}

// Pool claims tasks from a Queue and runs them on a fixed number of workers.
type Pool struct {
	q        *Queue
	cfg      PoolConfig
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler

	abandoned atomic.Int64
}

// NewPool creates a pool over q.
func NewPool(q *Queue, cfg PoolConfig, logger *slog.Logger) *Pool {
	cfg.defaults()
	return &Pool{
		q:        q,
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for kind.
func (p *Pool) Handle(kind string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Abandoned reports how many handlers were given up on at their hard limit
// and have not returned yet.
func (p *Pool) Abandoned() int64 {
	return p.abandoned.Load()
}

func (p *Pool) handler(kind string) Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers[kind]
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has returned. In-flight tasks see their context cancelled on shutdown and
// are recorded as failed.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval)

	var wg sync.WaitGroup
	for i := range p.cfg.Workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i + 1)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reapLoop(ctx)
	}()

	wg.Wait()
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) work(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := p.q.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim task failed", "error", err)
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}
		p.RunTask(ctx, task, logger)
	}
}

// RunTask executes one claimed task under its time ceilings and records the
// outcome.
func (p *Pool) RunTask(ctx context.Context, task *Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "kind", task.Kind)
	h := p.handler(task.Kind)
	if h == nil {
		logger.Error("no handler registered for task kind")
		p.record(ctx, task, fmt.Errorf("no handler for kind %q", task.Kind), logger)
		return
	}

	started := time.Now()
	if task.StartedAt != nil {
		started = *task.StartedAt
	}
	tctx, cancel := context.WithDeadline(ctx, started.Add(task.HardLimit))
	defer cancel()
	tctx = WithSoftDeadline(tctx, started.Add(task.SoftLimit))

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- h(tctx, task)
	}()

	logger.Debug("task started")
	var err error
	select {
	case err = <-done:
	case <-tctx.Done():
		select {
		case err = <-done:
		case <-time.After(p.cfg.Grace):
			n := p.abandoned.Add(1)
			logger.Error("handler did not return after cancellation, abandoning it", "abandoned", n)
			err = ErrHardTimeLimit
			go func() {
				<-done
				left := p.abandoned.Add(-1)
				logger.Warn("abandoned handler returned", "abandoned", left)
			}()
		}
	}
	if err != nil && !errors.Is(err, ErrHardTimeLimit) &&
		errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", ErrHardTimeLimit, err)
	}
	p.record(ctx, task, err, logger)
}

func (p *Pool) record(ctx context.Context, task *Task, err error, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		logger.Debug("task done")
		if cerr := p.q.Complete(ctx, task.ID); cerr != nil {
			logger.Error("failed to mark task done", "error", cerr)
		}
		return
	}

	switch {
	case errors.Is(err, ErrSoftTimeLimit):
		logger.Warn("task stopped at soft time limit", "error", err)
	case errors.Is(err, ErrHardTimeLimit):
		logger.Error("task killed at hard time limit", "error", err)
	default:
		logger.Error("task failed", "error", err)
	}
	if ferr := p.q.Fail(ctx, task.ID, err.Error()); ferr != nil {
		logger.Error("failed to mark task failed", "error", ferr)
	}
}

func (p *Pool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.q.Reap(ctx, p.cfg.Grace)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("reap tasks failed", "error", err)
				}
				continue
			}
			if n > 0 {
				p.logger.Warn("marked abandoned tasks", "count", n)
			}
		}
	}
}

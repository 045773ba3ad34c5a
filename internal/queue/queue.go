// Package queue is a durable SQLite task queue with per-task soft and hard
// time ceilings.
//
// Delivery is at-least-once from the producer's point of view: a task is
// claimed atomically by one worker and then finished as done or failed. A
// worker that dies mid-task leaves its row running; Reap later marks such
// rows abandoned. Abandoned tasks are never redelivered; the owning records
// (boards, applications) recover through their own stale-state guards.
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS tasks (
//	    id            TEXT PRIMARY KEY,
//	    kind          TEXT NOT NULL,
//	    payload       BLOB,
//	    status        TEXT NOT NULL,     -- queued, running, done, failed, abandoned
//	    eta           INTEGER NOT NULL,  -- milliseconds since epoch
//	    created_at    INTEGER NOT NULL,
//	    started_at    INTEGER,
//	    finished_at   INTEGER,
//	    soft_limit_ms INTEGER NOT NULL,
//	    hard_limit_ms INTEGER NOT NULL,
//	    attempts      INTEGER NOT NULL DEFAULT 0,
//	    error         TEXT NOT NULL DEFAULT ''
//	);
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/hunter/internal/model"
)

// Task kinds dispatched by this system.
const (
	KindScanBoard   = "scan_board"
	KindAutoApply   = "auto_apply"
	KindResumeApply = "resume_apply"
)

// ScanBoardPayload is the payload of a scan_board task.
type ScanBoardPayload struct {
	BoardID string `json:"board_id"`
}

// ApplicationPayload is the payload of auto_apply and resume_apply tasks.
type ApplicationPayload struct {
	ApplicationID string `json:"application_id"`
}

// Status is a task's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Default time ceilings.
const (
	DefaultSoftLimit = 10 * time.Minute
	DefaultHardLimit = 15 * time.Minute
)

// Task is a row in the queue.
type Task struct {
	ID         string
	Kind       string
	Payload    []byte
	Status     Status
	ETA        time.Time
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	SoftLimit  time.Duration
	HardLimit  time.Duration
	Attempts   int
	Error      string
}

// Decode unmarshals the JSON payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Kind, err)
	}
	return nil
}

// Options configure a Queue.
type Options struct {
	SoftLimit time.Duration
	HardLimit time.Duration
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.SoftLimit <= 0 {
		o.SoftLimit = DefaultSoftLimit
	}
	if o.HardLimit <= 0 {
		o.HardLimit = DefaultHardLimit
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is the task queue handle.
type Queue struct {
	db   *sql.DB
	opts Options
	now  func() time.Time
}

// New creates a queue over db. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Queue {
	opts.defaults()
	return &Queue{db: db, opts: opts, now: time.Now}
}

// EnsureTable creates the tasks table and its indexes if they don't exist.
func (q *Queue) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id            TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			payload       BLOB,
			status        TEXT NOT NULL,
			eta           INTEGER NOT NULL,
			created_at    INTEGER NOT NULL,
			started_at    INTEGER,
			finished_at   INTEGER,
			soft_limit_ms INTEGER NOT NULL,
			hard_limit_ms INTEGER NOT NULL,
			attempts      INTEGER NOT NULL DEFAULT 0,
			error         TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_ready ON tasks (status, eta);
	`)
	if err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	return nil
}

type enqueueOptions struct {
	eta       time.Time
	softLimit time.Duration
	hardLimit time.Duration
}

// EnqueueOption adjusts a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithETA delays the task until t.
func WithETA(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.eta = t }
}

// WithTimeLimits overrides the queue's default ceilings for one task.
func WithTimeLimits(soft, hard time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.softLimit = soft
		o.hardLimit = hard
	}
}

// Enqueue stores a task and returns its id immediately.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, opts ...EnqueueOption) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", kind, err)
	}

	now := q.now()
	o := enqueueOptions{eta: now, softLimit: q.opts.SoftLimit, hardLimit: q.opts.HardLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hardLimit < o.softLimit {
		o.hardLimit = o.softLimit
	}

	id := model.NewID()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, payload, status, eta, created_at, soft_limit_ms, hard_limit_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, kind, data, StatusQueued, o.eta.UnixMilli(), now.UnixMilli(),
		o.softLimit.Milliseconds(), o.hardLimit.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return id, nil
}

// Claim atomically moves the oldest due task to running and returns it.
// Returns nil, nil when nothing is due.
func (q *Queue) Claim(ctx context.Context) (*Task, error) {
	now := q.now()
	row := q.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = ?, started_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = ? AND eta <= ?
			ORDER BY eta ASC, created_at ASC
			LIMIT 1
		)
		RETURNING `+taskColumns,
		StatusRunning, now.UnixMilli(), StatusQueued, now.UnixMilli(),
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

// Complete marks a running task done.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.finish(ctx, id, StatusDone, "")
}

// Fail marks a running task failed with msg. Failed tasks are not retried.
func (q *Queue) Fail(ctx context.Context, id, msg string) error {
	return q.finish(ctx, id, StatusFailed, msg)
}

func (q *Queue) finish(ctx context.Context, id string, status Status, msg string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, finished_at = ?, error = ?
		WHERE id = ? AND status = ?`,
		status, q.now().UnixMilli(), model.Truncate(msg, 1000), id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish task %s: %w", id, err)
	}
	return nil
}

// Reap marks running tasks whose hard ceiling plus grace has passed as
// abandoned and returns how many it marked.
func (q *Queue) Reap(ctx context.Context, grace time.Duration) (int, error) {
	now := q.now().UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, finished_at = ?, error = 'worker lost before completion'
		WHERE status = ? AND started_at + hard_limit_ms + ? <= ?`,
		StatusAbandoned, now, StatusRunning, grace.Milliseconds(), now,
	)
	if err != nil {
		return 0, fmt.Errorf("reap tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Get returns a task by id.
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// Counts returns the number of tasks per status.
func (q *Queue) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

const taskColumns = `id, kind, payload, status, eta, created_at, started_at, finished_at,
	soft_limit_ms, hard_limit_ms, attempts, error`

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	var eta, created, softMs, hardMs int64
	var started, finished sql.NullInt64
	err := row.Scan(&t.ID, &t.Kind, &t.Payload, &t.Status, &eta, &created,
		&started, &finished, &softMs, &hardMs, &t.Attempts, &t.Error)
	if err != nil {
		return nil, err
	}
	t.ETA = time.UnixMilli(eta)
	t.CreatedAt = time.UnixMilli(created)
	if started.Valid {
		ts := time.UnixMilli(started.Int64)
		t.StartedAt = &ts
	}
	if finished.Valid {
		ts := time.UnixMilli(finished.Int64)
		t.FinishedAt = &ts
	}
	t.SoftLimit = time.Duration(softMs) * time.Millisecond
	t.HardLimit = time.Duration(hardMs) * time.Millisecond
	return &t, nil
}

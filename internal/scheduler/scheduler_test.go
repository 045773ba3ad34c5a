package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/queue"
	"github.com/amishk599/hunter/internal/store"
)

// --- Fakes ---

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.ScanBoardPayload
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, kind string, payload any, _ ...queue.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	if kind != queue.KindScanBoard {
		return "", errors.New("unexpected kind " + kind)
	}
	q.tasks = append(q.tasks, payload.(queue.ScanBoardPayload))
	return "task-" + kind, nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type recordingReconciler struct {
	cutoffs []time.Time
}

func (r *recordingReconciler) Reconcile(_ context.Context, cutoff time.Time) (int, error) {
	r.cutoffs = append(r.cutoffs, cutoff)
	return 0, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedBoard(t *testing.T, s *store.SQLStore, lastScanned time.Time) model.Board {
	t.Helper()
	ctx := context.Background()
	b, err := s.UpsertBoard(ctx, model.Board{
		Name:         "acme",
		URL:          "https://example.com/jobs",
		Enabled:      true,
		ScanInterval: 60 * time.Minute,
	})
	if err != nil {
		t.Fatalf("UpsertBoard: %v", err)
	}
	if !lastScanned.IsZero() {
		if err := s.FinishScan(ctx, b.ID, model.ScanResult{Status: model.ScanSuccess, FinishedAt: lastScanned}); err != nil {
			t.Fatalf("FinishScan: %v", err)
		}
	}
	return b
}

var testConfig = Config{Tick: time.Minute, StaleRunning: 30 * time.Minute, ApplicationStale: 20 * time.Minute}

// --- Tests ---

func TestTickDispatchesOncePerDueBoard(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	b := seedBoard(t, s, now.Add(-61*time.Minute))

	q := &recordingQueue{}
	sched := New(s, q, nil, testConfig, discardLogger())
	sched.now = func() time.Time { return now }

	n, err := sched.Tick(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("first Tick = %d, %v; want 1", n, err)
	}
	if q.tasks[0].BoardID != b.ID {
		t.Errorf("dispatched board %s, want %s", q.tasks[0].BoardID, b.ID)
	}

	got, _ := s.GetBoard(context.Background(), b.ID)
	if got.LastScanStatus != model.ScanRunning {
		t.Errorf("status = %s, want running", got.LastScanStatus)
	}

	// A second tick before the scan completes dispatches nothing.
	sched.now = func() time.Time { return now.Add(time.Minute) }
	n, err = sched.Tick(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second Tick = %d, %v; want 0", n, err)
	}
	if q.count() != 1 {
		t.Errorf("enqueued %d tasks, want 1", q.count())
	}
}

func TestTickSkipsBoardsNotDue(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	seedBoard(t, s, now.Add(-10*time.Minute))

	q := &recordingQueue{}
	sched := New(s, q, nil, testConfig, discardLogger())
	sched.now = func() time.Time { return now }

	if n, _ := sched.Tick(context.Background()); n != 0 {
		t.Errorf("dispatched %d, want 0", n)
	}
}

func TestTickRecoversStaleRunningBoard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	b := seedBoard(t, s, now.Add(-3*time.Hour))

	// A worker claimed the board and crashed without finishing.
	if ok, err := s.ClaimScan(ctx, b.ID, now.Add(-10*time.Minute), testConfig.StaleRunning); err != nil || !ok {
		t.Fatalf("ClaimScan = %v, %v", ok, err)
	}

	q := &recordingQueue{}
	sched := New(s, q, nil, testConfig, discardLogger())
	sched.now = func() time.Time { return now }
	if n, _ := sched.Tick(ctx); n != 0 {
		t.Fatalf("dispatched %d before stale timeout, want 0", n)
	}

	sched.now = func() time.Time { return now.Add(21 * time.Minute) }
	if n, _ := sched.Tick(ctx); n != 1 {
		t.Fatalf("dispatched %d after stale timeout, want 1", n)
	}
}

func TestTickEnqueueFailureReleasesBoard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	b := seedBoard(t, s, time.Time{})

	q := &recordingQueue{err: errors.New("queue down")}
	sched := New(s, q, nil, testConfig, discardLogger())
	sched.now = func() time.Time { return now }

	if n, _ := sched.Tick(ctx); n != 0 {
		t.Fatalf("dispatched %d, want 0", n)
	}
	got, _ := s.GetBoard(ctx, b.ID)
	if got.LastScanStatus != model.ScanFailed || got.LastScanError == "" {
		t.Errorf("board = %s %q, want failed with error", got.LastScanStatus, got.LastScanError)
	}
}

func TestTickRunsReconciliation(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	r := &recordingReconciler{}
	sched := New(s, &recordingQueue{}, r, testConfig, discardLogger())
	sched.now = func() time.Time { return now }

	if _, err := sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(r.cutoffs) != 1 || !r.cutoffs[0].Equal(now.Add(-20*time.Minute)) {
		t.Errorf("cutoffs = %v", r.cutoffs)
	}
}

func TestRun_CancelReturnsPromptly(t *testing.T) {
	s := newTestStore(t)
	seedBoard(t, s, time.Time{})
	q := &recordingQueue{}
	sched := New(s, q, nil, Config{Tick: time.Hour, StaleRunning: time.Hour}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx)
	}()

	// The immediate first tick dispatches the never-scanned board.
	deadline := time.Now().Add(2 * time.Second)
	for q.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on cancel, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not return within 2s after cancel")
	}
	if q.count() != 1 {
		t.Errorf("enqueued %d, want 1", q.count())
	}
}

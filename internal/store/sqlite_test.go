package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amishk599/hunter/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedBoard(t *testing.T, s *SQLStore, name string) model.Board {
	t.Helper()
	b, err := s.UpsertBoard(context.Background(), model.Board{
		Name:           name,
		URL:            "https://example.com/" + name,
		Enabled:        true,
		ScanInterval:   time.Hour,
		KeywordFilters: []string{"go"},
		Scraper:        model.ScraperConfig{Type: model.StrategyGeneric, MaxPages: 3},
	})
	if err != nil {
		t.Fatalf("UpsertBoard: %v", err)
	}
	return b
}

func TestUpsertBoardRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := seedBoard(t, s, "acme")
	if b.ID == "" || b.LastScanStatus != model.ScanNever {
		t.Fatalf("board = %+v", b)
	}
	if b.ScanInterval != time.Hour || b.Scraper.MaxPages != 3 || len(b.KeywordFilters) != 1 {
		t.Errorf("config not persisted: %+v", b)
	}

	got, err := s.GetBoard(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBoard: %v", err)
	}
	if got.Name != "acme" || got.URL != b.URL {
		t.Errorf("GetBoard = %+v", got)
	}
}

func TestUpsertBoardKeepsIDAndBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := seedBoard(t, s, "acme")

	if err := s.FinishScan(ctx, b.ID, model.ScanResult{Status: model.ScanSuccess, ListingsFound: 4}); err != nil {
		t.Fatalf("FinishScan: %v", err)
	}

	updated, err := s.UpsertBoard(ctx, model.Board{Name: "acme", URL: "https://example.com/new", ScanInterval: 2 * time.Hour})
	if err != nil {
		t.Fatalf("UpsertBoard: %v", err)
	}
	if updated.ID != b.ID {
		t.Errorf("id changed from %s to %s", b.ID, updated.ID)
	}
	if updated.URL != "https://example.com/new" || updated.Enabled {
		t.Errorf("config not updated: %+v", updated)
	}
	if updated.LastScanStatus != model.ScanSuccess || updated.ListingsFound != 4 {
		t.Errorf("bookkeeping lost: %+v", updated)
	}
}

func TestGetBoardMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBoard(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClaimScanSingleFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := seedBoard(t, s, "acme")
	now := time.Now()

	ok, err := s.ClaimScan(ctx, b.ID, now, 30*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first ClaimScan = %v, %v", ok, err)
	}
	ok, err = s.ClaimScan(ctx, b.ID, now.Add(time.Minute), 30*time.Minute)
	if err != nil || ok {
		t.Fatalf("second ClaimScan = %v, %v; want false", ok, err)
	}

	// A running flag older than the stale timeout is reclaimed.
	ok, err = s.ClaimScan(ctx, b.ID, now.Add(31*time.Minute), 30*time.Minute)
	if err != nil || !ok {
		t.Fatalf("stale ClaimScan = %v, %v; want true", ok, err)
	}

	got, _ := s.GetBoard(ctx, b.ID)
	if got.LastScanStatus != model.ScanRunning || got.ScanStartedAt == nil {
		t.Errorf("board = %+v", got)
	}
}

func TestDueBoards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	stale := 30 * time.Minute

	never := seedBoard(t, s, "never")
	recent := seedBoard(t, s, "recent")
	old := seedBoard(t, s, "old")
	running := seedBoard(t, s, "running")
	disabled := seedBoard(t, s, "disabled")
	disabled.Enabled = false
	if _, err := s.UpsertBoard(ctx, disabled); err != nil {
		t.Fatal(err)
	}

	s.FinishScan(ctx, recent.ID, model.ScanResult{Status: model.ScanSuccess, FinishedAt: now.Add(-10 * time.Minute)})
	s.FinishScan(ctx, old.ID, model.ScanResult{Status: model.ScanSuccess, FinishedAt: now.Add(-61 * time.Minute)})
	s.FinishScan(ctx, running.ID, model.ScanResult{Status: model.ScanSuccess, FinishedAt: now.Add(-2 * time.Hour)})
	s.ClaimScan(ctx, running.ID, now.Add(-time.Minute), stale)

	due, err := s.DueBoards(ctx, now, stale)
	if err != nil {
		t.Fatalf("DueBoards: %v", err)
	}
	var names []string
	for _, b := range due {
		names = append(names, b.Name)
	}
	got := strings.Join(names, ",")
	if got != never.Name+","+old.Name {
		t.Errorf("due = %s, want never,old", got)
	}

	// Once the running flag is stale the board is eligible again.
	due, _ = s.DueBoards(ctx, now.Add(stale), stale)
	found := false
	for _, b := range due {
		if b.ID == running.ID {
			found = true
		}
	}
	if !found {
		t.Error("stale running board not due")
	}
}

func TestFinishScanRecordsFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := seedBoard(t, s, "acme")
	s.ClaimScan(ctx, b.ID, time.Now(), time.Hour)

	long := strings.Repeat("x", 900)
	if err := s.FinishScan(ctx, b.ID, model.ScanResult{Status: model.ScanFailed, Error: long}); err != nil {
		t.Fatalf("FinishScan: %v", err)
	}
	got, _ := s.GetBoard(ctx, b.ID)
	if got.LastScanStatus != model.ScanFailed || len(got.LastScanError) != 500 {
		t.Errorf("status = %s, error len = %d", got.LastScanStatus, len(got.LastScanError))
	}
	if got.ScanStartedAt != nil || got.LastScannedAt == nil {
		t.Errorf("bookkeeping = %+v", got)
	}
}

func TestInsertListingDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := seedBoard(t, s, "acme")
	other := seedBoard(t, s, "other")

	min, max := 100000, 150000
	l := &model.Listing{BoardID: b.ID, Title: "Backend Engineer", URL: "https://x/1", ContentHash: "h1", SalaryMin: &min, SalaryMax: &max}
	inserted, err := s.InsertListing(ctx, l)
	if err != nil || !inserted {
		t.Fatalf("first insert = %v, %v", inserted, err)
	}
	if l.ID == "" || !l.IsNew {
		t.Errorf("listing = %+v", l)
	}

	dup := &model.Listing{BoardID: b.ID, Title: "Backend Engineer (dup)", ContentHash: "h1"}
	inserted, err = s.InsertListing(ctx, dup)
	if err != nil || inserted {
		t.Fatalf("duplicate insert = %v, %v; want false, nil", inserted, err)
	}

	// The same hash on another board is a different listing.
	inserted, err = s.InsertListing(ctx, &model.Listing{BoardID: other.ID, Title: "Backend Engineer", ContentHash: "h1"})
	if err != nil || !inserted {
		t.Fatalf("other board insert = %v, %v", inserted, err)
	}

	got, err := s.GetListing(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if got.Title != "Backend Engineer" || *got.SalaryMin != 100000 || *got.SalaryMax != 150000 || !got.IsNew {
		t.Errorf("GetListing = %+v", got)
	}

	if err := s.UpdateMatchScore(ctx, l.ID, 67); err != nil {
		t.Fatalf("UpdateMatchScore: %v", err)
	}
	got, _ = s.GetListing(ctx, l.ID)
	if got.MatchScore != 67 {
		t.Errorf("match score = %d", got.MatchScore)
	}
}

func TestListListings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedBoard(t, s, "a")
	b := seedBoard(t, s, "b")

	base := time.Now()
	for i, hash := range []string{"1", "2", "3"} {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		s.InsertListing(ctx, &model.Listing{BoardID: a.ID, Title: "A" + hash, ContentHash: hash})
	}
	s.InsertListing(ctx, &model.Listing{BoardID: b.ID, Title: "B", ContentHash: "x"})

	got, err := s.ListListings(ctx, a.ID, 2)
	if err != nil {
		t.Fatalf("ListListings: %v", err)
	}
	if len(got) != 2 || got[0].Title != "A3" || got[1].Title != "A2" {
		t.Errorf("ListListings = %+v", got)
	}

	all, _ := s.ListListings(ctx, "", 0)
	if len(all) != 4 {
		t.Errorf("all listings = %d, want 4", len(all))
	}
}

func seedListing(t *testing.T, s *SQLStore) model.Listing {
	t.Helper()
	b := seedBoard(t, s, "acme")
	l := &model.Listing{BoardID: b.ID, Title: "Engineer", URL: "https://x/apply", ContentHash: "h"}
	if _, err := s.InsertListing(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	return *l
}

func TestApplicationConditionalUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := seedListing(t, s)

	app, err := s.CreateApplication(ctx, model.Application{ListingID: l.ID})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	if app.Status != model.AppPending || app.ID == "" {
		t.Fatalf("app = %+v", app)
	}

	app.Status = model.AppNeedsReview
	app.CaptchaFound = true
	app.DetectedFields = []model.DetectedField{{Name: "email", Value: "a@b.c", Confidence: 0.85, Status: model.FieldFilled}}
	if err := s.UpdateApplication(ctx, app, model.AppPending); err != nil {
		t.Fatalf("UpdateApplication: %v", err)
	}

	// A writer still expecting pending loses.
	stale := app
	stale.Status = model.AppInProgress
	err = s.UpdateApplication(ctx, stale, model.AppPending)
	if !errors.Is(err, model.ErrStatusChanged) {
		t.Fatalf("err = %v, want ErrStatusChanged", err)
	}

	got, err := s.GetApplication(ctx, app.ID)
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	if got.Status != model.AppNeedsReview || !got.CaptchaFound || got.ListingID != l.ID {
		t.Errorf("app = %+v", got)
	}
	if len(got.DetectedFields) != 1 || got.DetectedFields[0].Value != "a@b.c" {
		t.Errorf("fields = %+v", got.DetectedFields)
	}

	missing := model.Application{ID: "nope", Status: model.AppFailed}
	if err := s.UpdateApplication(ctx, missing, model.AppPending); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing update err = %v, want ErrNotFound", err)
	}
}

func TestQueueTaskRefSurvivesWorkerUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := seedListing(t, s)

	app, err := s.CreateApplication(ctx, model.Application{ListingID: l.ID})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	// The worker loaded the row before the ref was recorded.
	loaded, err := s.GetApplication(ctx, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetQueueTaskRef(ctx, app.ID, "task-1"); err != nil {
		t.Fatalf("SetQueueTaskRef: %v", err)
	}

	loaded.Status = model.AppInProgress
	if err := s.UpdateApplication(ctx, loaded, model.AppPending); err != nil {
		t.Fatalf("UpdateApplication: %v", err)
	}
	got, err := s.GetApplication(ctx, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.AppInProgress || got.QueueTaskRef != "task-1" {
		t.Errorf("status = %s, task ref = %q; want in_progress, task-1", got.Status, got.QueueTaskRef)
	}

	if err := s.SetQueueTaskRef(ctx, "nope", "task-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing app err = %v, want ErrNotFound", err)
	}
}

func TestHasActiveApplication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := seedListing(t, s)

	active, err := s.HasActiveApplication(ctx, l.ID)
	if err != nil || active {
		t.Fatalf("before create = %v, %v", active, err)
	}

	app, _ := s.CreateApplication(ctx, model.Application{ListingID: l.ID})
	if active, _ := s.HasActiveApplication(ctx, l.ID); !active {
		t.Error("pending application not active")
	}

	app.Status = model.AppCancelled
	if err := s.UpdateApplication(ctx, app, model.AppPending); err != nil {
		t.Fatal(err)
	}
	if active, _ := s.HasActiveApplication(ctx, l.ID); active {
		t.Error("cancelled application still active")
	}
}

func TestListAndStaleApplications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	s.now = func() time.Time { return base.Add(-time.Hour) }
	old, _ := s.CreateApplication(ctx, model.Application{})
	old.Status = model.AppInProgress
	s.UpdateApplication(ctx, old, model.AppPending)

	s.now = func() time.Time { return base }
	fresh, _ := s.CreateApplication(ctx, model.Application{})
	fresh.Status = model.AppInProgress
	s.UpdateApplication(ctx, fresh, model.AppPending)
	s.CreateApplication(ctx, model.Application{Status: model.AppNeedsReview})

	stale, err := s.StaleApplications(ctx, model.AppInProgress, base.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("StaleApplications: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Errorf("stale = %+v", stale)
	}

	review, _ := s.ListApplications(ctx, model.AppNeedsReview, model.AppReadyToSubmit)
	if len(review) != 1 {
		t.Errorf("review queue = %d, want 1", len(review))
	}
	all, _ := s.ListApplications(ctx)
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

func TestAuditLogOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	app, _ := s.CreateApplication(ctx, model.Application{})

	ts := time.Now()
	for _, action := range []string{"created", "started", "paused_for_review"} {
		if err := s.AppendAudit(ctx, app.ID, model.AuditEntry{Action: action, Timestamp: ts}); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	s.AppendAudit(ctx, app.ID, model.AuditEntry{Action: "screenshot", ScreenshotRef: "blob/1"})

	got, err := s.GetApplication(ctx, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	var actions []string
	for _, e := range got.AuditLog {
		actions = append(actions, e.Action)
	}
	if strings.Join(actions, ",") != "created,started,paused_for_review,screenshot" {
		t.Errorf("audit = %v", actions)
	}
	if got.AuditLog[3].ScreenshotRef != "blob/1" || got.AuditLog[3].Timestamp.IsZero() {
		t.Errorf("last entry = %+v", got.AuditLog[3])
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: dialectPostgres}
	got := pg.rebind("UPDATE t SET a = ? WHERE id = ? AND b IN (?, ?)")
	want := "UPDATE t SET a = $1 WHERE id = $2 AND b IN ($3, $4)"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	lite := &SQLStore{dialect: dialectSQLite}
	if q := "SELECT ?"; lite.rebind(q) != q {
		t.Error("sqlite query was rewritten")
	}
}

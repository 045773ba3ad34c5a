package autoapply

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amishk599/hunter/internal/blob"
	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/queue"
	"github.com/amishk599/hunter/internal/store"
)

// --- Fakes ---

type RecordingPublisher struct {
	mu     sync.Mutex
	Events []model.Event
}

func (p *RecordingPublisher) Publish(_ context.Context, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, ev)
	return nil
}

func (p *RecordingPublisher) last() model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Events) == 0 {
		return model.Event{}
	}
	return p.Events[len(p.Events)-1]
}

type RecordingNotifier struct {
	Reviews []string
}

func (n *RecordingNotifier) NotifyListings(context.Context, model.Board, []model.Listing) error {
	return nil
}

func (n *RecordingNotifier) NotifyReview(_ context.Context, app model.Application, _ model.Listing) error {
	n.Reviews = append(n.Reviews, app.ID)
	return nil
}

type staticProfile struct {
	p   model.Profile
	err error
}

func (s staticProfile) Profile(context.Context) (model.Profile, error) { return s.p, s.err }

// --- Fixtures ---

type submission struct {
	values     map[string]string
	resumeName string
}

// jobSite serves a description page linking to an application form, plus a
// captcha-protected listing. Form posts are recorded.
type jobSite struct {
	*httptest.Server
	mu        sync.Mutex
	submitted []submission
}

const descriptionPage = `<html><body>
<h1>Backend Engineer</h1><p>Build things in Go.</p>
<a href="/jobs/1/apply">Apply Now</a>
</body></html>`

const applicationForm = `<html><body>
<form method="post" action="/jobs/1/submit" enctype="multipart/form-data">
  <input type="hidden" name="csrf" value="token">
  <label for="fn">First Name</label><input id="fn" name="first_name" type="text">
  <input name="email" type="email" placeholder="Email">
  <label>Phone <input name="phone" type="tel"></label>
  <label for="auth">Are you authorized to work in the US?</label>
  <select id="auth" name="work_auth"><option value="">Select...</option><option value="Yes">Yes</option><option value="No">No</option></select>
  <label for="resume">Resume/CV</label><input type="file" id="resume" name="resume">
  %s
  <button type="submit">Submit Application</button>
</form>
</body></html>`

const whyField = `<label for="why">Why do you want to work here?</label><textarea id="why" name="why_us"></textarea>`

func newJobSite(t *testing.T, withQuestion bool) *jobSite {
	t.Helper()
	site := &jobSite{}
	form := strings.Replace(applicationForm, "%s", "", 1)
	if withQuestion {
		form = strings.Replace(applicationForm, "%s", whyField, 1)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, descriptionPage)
	})
	mux.HandleFunc("GET /jobs/1/apply", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, form)
	})
	mux.HandleFunc("POST /jobs/1/submit", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sub := submission{values: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			sub.values[k] = v[0]
		}
		if _, hdr, err := r.FormFile("resume"); err == nil {
			sub.resumeName = hdr.Filename
		}
		site.mu.Lock()
		site.submitted = append(site.submitted, sub)
		site.mu.Unlock()
		io.WriteString(w, `<html><body>Thanks for applying</body></html>`)
	})
	mux.HandleFunc("GET /jobs/2", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body><form><input name="email"><div class="g-recaptcha" data-sitekey="k"></div></form></body></html>`)
	})
	mux.HandleFunc("GET /jobs/3", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body><form><input name="email"><input type="file" id="f1"></form></body></html>`)
	})
	site.Server = httptest.NewServer(mux)
	t.Cleanup(site.Close)
	return site
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

func seedApplication(t *testing.T, s *store.SQLStore, url string) model.Application {
	t.Helper()
	ctx := context.Background()
	b, err := s.UpsertBoard(ctx, model.Board{Name: "acme", URL: "https://acme.example", Enabled: true, ScanInterval: time.Hour})
	if err != nil {
		t.Fatalf("UpsertBoard: %v", err)
	}
	l := model.Listing{BoardID: b.ID, Title: "Backend Engineer", Company: "Acme", URL: url, ContentHash: url}
	if _, err := s.InsertListing(ctx, &l); err != nil {
		t.Fatalf("InsertListing: %v", err)
	}
	app, err := s.CreateApplication(ctx, model.Application{ListingID: l.ID})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	return app
}

func testProfile(t *testing.T) model.Profile {
	t.Helper()
	resume := filepath.Join(t.TempDir(), "resume.pdf")
	if err := os.WriteFile(resume, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	yes := true
	return model.Profile{
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Email:      "ada@example.com",
		Phone:      "555-0100",
		USCitizen:  &yes,
		ResumePath: resume,
	}
}

type harness struct {
	store    *store.SQLStore
	runner   *Runner
	events   *RecordingPublisher
	notifier *RecordingNotifier
}

func newHarness(t *testing.T, profiles model.ProfileProvider) *harness {
	t.Helper()
	s := newTestStore(t)
	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{store: s, events: &RecordingPublisher{}, notifier: &RecordingNotifier{}}
	driver := browser.NewStaticDriver(http.DefaultClient, discardLogger())
	h.runner = NewRunner(s, s, profiles, driver, blobs, h.events, h.notifier, Config{}, discardLogger())
	return h
}

func (h *harness) app(t *testing.T, id string) model.Application {
	t.Helper()
	app, err := h.store.GetApplication(context.Background(), id)
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	return app
}

func actions(app model.Application) []string {
	var out []string
	for _, e := range app.AuditLog {
		out = append(out, e.Action)
	}
	return out
}

func fieldByName(fields []model.DetectedField, name string) model.DetectedField {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	return model.DetectedField{}
}

// --- Tests ---

func TestStartPausesForUnansweredQuestion(t *testing.T) {
	site := newJobSite(t, true)
	h := newHarness(t, staticProfile{p: testProfile(t)})
	app := seedApplication(t, h.store, site.URL+"/jobs/1")

	if err := h.runner.Start(context.Background(), app.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := h.app(t, app.ID)
	if got.Status != model.AppNeedsReview {
		t.Fatalf("status = %s, want needs_review", got.Status)
	}
	if got.CurrentPageRef != site.URL+"/jobs/1/apply" {
		t.Errorf("current page = %q", got.CurrentPageRef)
	}
	if got.ScreenshotRef == "" {
		t.Error("no screenshot recorded")
	}
	if len(got.DetectedFields) != 6 {
		t.Fatalf("detected %d fields, want 6: %+v", len(got.DetectedFields), got.DetectedFields)
	}

	checks := []struct {
		name   string
		value  string
		status model.FieldStatus
	}{
		{"first_name", "Ada", model.FieldFilled},
		{"email", "ada@example.com", model.FieldFilled},
		{"phone", "555-0100", model.FieldFilled},
		{"work_auth", "Yes", model.FieldFilled},
		{"resume", "resume.pdf", model.FieldFilled},
		{"why_us", "", model.FieldNeedsInput},
	}
	for _, c := range checks {
		f := fieldByName(got.DetectedFields, c.name)
		if f.Value != c.value || f.Status != c.status {
			t.Errorf("field %s = %q/%s, want %q/%s", c.name, f.Value, f.Status, c.value, c.status)
		}
	}
	if f := fieldByName(got.DetectedFields, "work_auth"); len(f.Options) != 3 || f.Label != "Are you authorized to work in the US?" {
		t.Errorf("select field = %+v", f)
	}

	want := []string{"started", "navigating", "clicking_apply", "page_loaded", "analyzing", "filling", "resume_uploaded", "fields_filled", "paused_for_review"}
	if a := actions(got); strings.Join(a, ",") != strings.Join(want, ",") {
		t.Errorf("audit = %v, want %v", a, want)
	}
	if ev := h.events.last(); ev.Data["status"] != "needs_review" || ev.Data["message"] != "Needs human review" {
		t.Errorf("last event = %+v", ev)
	}
	if len(h.notifier.Reviews) != 1 {
		t.Errorf("review notifications = %d, want 1", len(h.notifier.Reviews))
	}
	if len(site.submitted) != 0 {
		t.Error("form was submitted before review")
	}
}

func TestStartReadyWhenEverythingFilled(t *testing.T) {
	site := newJobSite(t, false)
	h := newHarness(t, staticProfile{p: testProfile(t)})
	app := seedApplication(t, h.store, site.URL+"/jobs/1")

	if err := h.runner.Start(context.Background(), app.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := h.app(t, app.ID)
	if got.Status != model.AppReadyToSubmit {
		t.Fatalf("status = %s, want ready_to_submit", got.Status)
	}
	if a := actions(got); a[len(a)-1] != "ready_for_review" {
		t.Errorf("last audit = %s", a[len(a)-1])
	}
	if len(site.submitted) != 0 {
		t.Error("ready_to_submit must not submit on its own")
	}

	// Resume refuses to submit without a reviewer's sign-off.
	if err := h.runner.Resume(context.Background(), app.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := h.app(t, app.ID); got.Status != model.AppReadyToSubmit || len(site.submitted) != 0 {
		t.Errorf("unreviewed resume moved to %s", got.Status)
	}
}

func TestResumeSubmitsReviewedValues(t *testing.T) {
	site := newJobSite(t, true)
	h := newHarness(t, staticProfile{p: testProfile(t)})
	app := seedApplication(t, h.store, site.URL+"/jobs/1")
	ctx := context.Background()

	if err := h.runner.Start(ctx, app.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := h.app(t, app.ID)
	got.DetectedFields = MergeReviewed(got.DetectedFields, map[string]string{"why_us": "I like Go."})
	now := time.Now()
	got.ReviewedAt = &now
	got.Status = model.AppReadyToSubmit
	if err := h.store.UpdateApplication(ctx, got, model.AppNeedsReview); err != nil {
		t.Fatalf("UpdateApplication: %v", err)
	}

	if err := h.runner.Resume(ctx, app.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	final := h.app(t, app.ID)
	if final.Status != model.AppSubmitted || final.SubmittedAt == nil {
		t.Fatalf("status = %s, submitted_at = %v", final.Status, final.SubmittedAt)
	}
	if len(site.submitted) != 1 {
		t.Fatalf("submissions = %d, want 1", len(site.submitted))
	}
	sub := site.submitted[0]
	want := map[string]string{
		"first_name": "Ada",
		"email":      "ada@example.com",
		"phone":      "555-0100",
		"work_auth":  "Yes",
		"why_us":     "I like Go.",
		"csrf":       "token",
	}
	for k, v := range want {
		if sub.values[k] != v {
			t.Errorf("submitted %s = %q, want %q", k, sub.values[k], v)
		}
	}
	if sub.resumeName != "resume.pdf" {
		t.Errorf("resume upload = %q", sub.resumeName)
	}

	a := actions(final)
	tail := strings.Join(a[len(a)-3:], ",")
	if tail != "resuming,fields_filled,submitted" {
		t.Errorf("audit tail = %s", tail)
	}
}

func TestStartUnidentifiedFileInputForcesReview(t *testing.T) {
	site := newJobSite(t, false)
	h := newHarness(t, staticProfile{p: testProfile(t)})
	app := seedApplication(t, h.store, site.URL+"/jobs/3")

	if err := h.runner.Start(context.Background(), app.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := h.app(t, app.ID)
	if got.Status != model.AppNeedsReview {
		t.Fatalf("status = %s, want needs_review", got.Status)
	}
	f := fieldByName(got.DetectedFields, "f1")
	if f.Type != "file" || f.Confidence >= ConfidenceThreshold {
		t.Fatalf("f1 = %+v", f)
	}
	if f.Status != model.FieldNeedsInput {
		t.Errorf("f1 status = %s, want needs_input", f.Status)
	}
	if email := fieldByName(got.DetectedFields, "email"); email.Status != model.FieldFilled {
		t.Errorf("email status = %s", email.Status)
	}
}

func TestNeedsHumanReviewLowConfidence(t *testing.T) {
	filled := []model.DetectedField{{Name: "email", Status: model.FieldFilled, Confidence: 0.85}}
	if needsHumanReview(filled) {
		t.Error("confident filled fields should not need review")
	}
	low := append(filled, model.DetectedField{Name: "f1", Type: "file", Status: model.FieldFilled, Confidence: 0})
	if !needsHumanReview(low) {
		t.Error("a filled field below the threshold must force review")
	}
}

func TestStartCaptchaForcesReview(t *testing.T) {
	site := newJobSite(t, false)
	h := newHarness(t, staticProfile{p: testProfile(t)})
	app := seedApplication(t, h.store, site.URL+"/jobs/2")

	if err := h.runner.Start(context.Background(), app.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := h.app(t, app.ID)
	if got.Status != model.AppNeedsReview || !got.CaptchaFound {
		t.Fatalf("status = %s, captcha = %v", got.Status, got.CaptchaFound)
	}
	if len(got.DetectedFields) != 1 || got.DetectedFields[0].Type != "captcha" {
		t.Errorf("fields = %+v", got.DetectedFields)
	}
	a := actions(got)
	if a[len(a)-2] != "captcha_detected" || a[len(a)-1] != "paused_for_review" {
		t.Errorf("audit = %v", a)
	}
	if ev := h.events.last(); ev.Data["message"] != "CAPTCHA detected" {
		t.Errorf("last event = %+v", ev)
	}
}

func TestStartNavigationFailure(t *testing.T) {
	site := newJobSite(t, false)
	h := newHarness(t, staticProfile{p: testProfile(t)})
	app := seedApplication(t, h.store, site.URL+"/jobs/404")

	if err := h.runner.Start(context.Background(), app.ID); err == nil {
		t.Fatal("expected error")
	}
	got := h.app(t, app.ID)
	if got.Status != model.AppFailed || !strings.Contains(got.ErrorMessage, "404") {
		t.Fatalf("status = %s, error = %q", got.Status, got.ErrorMessage)
	}
	if a := actions(got); a[len(a)-1] != "error" {
		t.Errorf("audit = %v", a)
	}
	if ev := h.events.last(); ev.Data["status"] != "failed" {
		t.Errorf("last event = %+v", ev)
	}
}

func TestStartWithoutProfileFails(t *testing.T) {
	site := newJobSite(t, false)
	h := newHarness(t, staticProfile{err: model.ErrNoProfile})
	app := seedApplication(t, h.store, site.URL+"/jobs/1")

	if err := h.runner.Start(context.Background(), app.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := h.app(t, app.ID)
	if got.Status != model.AppFailed || got.ErrorMessage != "no profile configured" {
		t.Errorf("status = %s, error = %q", got.Status, got.ErrorMessage)
	}
}

func TestStartSkipsNonPending(t *testing.T) {
	h := newHarness(t, staticProfile{p: testProfile(t)})
	app := seedApplication(t, h.store, "http://127.0.0.1:1/never")
	ctx := context.Background()

	app.Status = model.AppCancelled
	if err := h.store.UpdateApplication(ctx, app, model.AppPending); err != nil {
		t.Fatal(err)
	}
	if err := h.runner.Start(ctx, app.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.app(t, app.ID); got.Status != model.AppCancelled || len(got.AuditLog) != 0 {
		t.Errorf("cancelled application was touched: %+v", got)
	}
	if err := h.runner.Start(ctx, "missing"); err != nil {
		t.Errorf("missing application: %v", err)
	}
}

func TestTransitionDetectsCancel(t *testing.T) {
	h := newHarness(t, staticProfile{p: testProfile(t)})
	app := seedApplication(t, h.store, "http://127.0.0.1:1/never")
	ctx := context.Background()

	stale := app
	app.Status = model.AppCancelled
	if err := h.store.UpdateApplication(ctx, app, model.AppPending); err != nil {
		t.Fatal(err)
	}

	err := h.runner.transition(ctx, &stale, model.AppInProgress)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if stale.Status != model.AppPending {
		t.Errorf("local status = %s, want restored pending", stale.Status)
	}

	if err := h.runner.transition(ctx, &stale, model.AppSubmitted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> submitted err = %v, want ErrInvalidTransition", err)
	}
}

func TestReconcileFailsStaleInProgress(t *testing.T) {
	h := newHarness(t, staticProfile{p: testProfile(t)})
	app := seedApplication(t, h.store, "http://127.0.0.1:1/never")
	ctx := context.Background()

	app.Status = model.AppInProgress
	if err := h.store.UpdateApplication(ctx, app, model.AppPending); err != nil {
		t.Fatal(err)
	}

	n, err := h.runner.Reconcile(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("fresh reconcile = %d, %v", n, err)
	}
	n, err = h.runner.Reconcile(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("reconcile = %d, %v; want 1", n, err)
	}
	got := h.app(t, app.ID)
	if got.Status != model.AppFailed || !strings.HasPrefix(got.ErrorMessage, "worker lost") {
		t.Errorf("status = %s, error = %q", got.Status, got.ErrorMessage)
	}
}

func TestHandleStartDecodesPayload(t *testing.T) {
	h := newHarness(t, staticProfile{p: testProfile(t)})
	bad := &queue.Task{Kind: queue.KindAutoApply, Payload: []byte(`{`)}
	if err := h.runner.HandleStart(context.Background(), bad); err == nil {
		t.Error("expected decode error")
	}
	ok := &queue.Task{Kind: queue.KindAutoApply, Payload: []byte(`{"application_id":"missing"}`)}
	if err := h.runner.HandleStart(context.Background(), ok); err != nil {
		t.Errorf("HandleStart: %v", err)
	}
}

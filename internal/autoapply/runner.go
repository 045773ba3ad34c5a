package autoapply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/queue"
)

// applyUserAgent is presented by every auto-apply session.
const applyUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// BlobStore keeps screenshots and resumes.
type BlobStore interface {
	Put(ctx context.Context, label string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Config tunes the runner.
type Config struct {
	// Settle is the pause after navigation and clicks for client-side
	// rendering to finish.
	Settle time.Duration
}

// DefaultConfig returns the settle time used against real sites.
func DefaultConfig() Config {
	return Config{Settle: 2 * time.Second}
}

// Runner executes auto_apply and resume_apply tasks. Each task opens its own
// browser session and closes it before returning.
type Runner struct {
	apps     model.ApplicationStore
	listings model.ListingStore
	profiles model.ProfileProvider
	driver   browser.Driver
	blobs    BlobStore
	events   model.EventPublisher
	notifier model.Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner creates an auto-apply runner.
func NewRunner(
	apps model.ApplicationStore,
	listings model.ListingStore,
	profiles model.ProfileProvider,
	driver browser.Driver,
	blobs BlobStore,
	events model.EventPublisher,
	notifier model.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		apps:     apps,
		listings: listings,
		profiles: profiles,
		driver:   driver,
		blobs:    blobs,
		events:   events,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleStart is the queue handler for auto_apply tasks.
func (r *Runner) HandleStart(ctx context.Context, t *queue.Task) error {
	var p queue.ApplicationPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	return r.Start(ctx, p.ApplicationID)
}

// HandleResume is the queue handler for resume_apply tasks.
func (r *Runner) HandleResume(ctx context.Context, t *queue.Task) error {
	var p queue.ApplicationPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	return r.Resume(ctx, p.ApplicationID)
}

// Start takes a pending application to the review gate. It never submits.
func (r *Runner) Start(ctx context.Context, appID string) error {
	logger := r.logger.With("application_id", appID)
	app, ok, err := r.load(ctx, appID, logger)
	if !ok {
		return err
	}
	if app.Status != model.AppPending {
		logger.Info("application is not pending, skipping", "status", app.Status)
		return nil
	}

	listing, err := r.listings.GetListing(ctx, app.ListingID)
	if err != nil {
		logger.Error("listing for application not found", "listing_id", app.ListingID, "error", err)
		r.failEarly(ctx, &app, "associated listing not found", logger)
		return nil
	}
	profile, err := r.profiles.Profile(ctx)
	if err != nil {
		logger.Error("loading profile failed", "error", err)
		r.failEarly(ctx, &app, "no profile configured", logger)
		return nil
	}

	if err := r.transition(ctx, &app, model.AppInProgress); err != nil {
		return r.abort(ctx, nil, &app, "Auto-apply failed", err, logger)
	}
	r.audit(ctx, app.ID, "started", fmt.Sprintf("Starting auto-apply for %s at %s", listing.Title, listing.Company), "", logger)
	r.publish(ctx, app, "Auto-apply started", logger)

	sess, err := r.driver.Open(ctx, browser.Options{UserAgent: applyUserAgent})
	if err != nil {
		return r.abort(ctx, nil, &app, "Auto-apply failed", fmt.Errorf("opening browser session: %w", err), logger)
	}
	defer sess.Close()

	if err := r.prepare(ctx, sess, &app, listing, profile, logger); err != nil {
		return r.abort(ctx, sess, &app, "Auto-apply failed", err, logger)
	}
	return nil
}

func (r *Runner) prepare(ctx context.Context, sess browser.Session, app *model.Application, listing model.Listing, profile model.Profile, logger *slog.Logger) error {
	r.audit(ctx, app.ID, "navigating", "Opening "+listing.URL, "", logger)
	if err := sess.Navigate(ctx, listing.URL); err != nil {
		return fmt.Errorf("navigating to %s: %w", listing.URL, err)
	}
	if err := r.settle(ctx); err != nil {
		return err
	}

	if btn := findApplyButton(ctx, sess); btn != nil {
		r.audit(ctx, app.ID, "clicking_apply", "Found apply button, clicking through to application form", "", logger)
		if err := btn.Click(ctx); err != nil {
			logger.Warn("clicking apply button failed", "error", err)
		} else if err := r.settle(ctx); err != nil {
			return err
		}
	}
	if err := queue.Checkpoint(ctx); err != nil {
		return err
	}

	shot := r.screenshot(ctx, sess, "initial", logger)
	r.audit(ctx, app.ID, "page_loaded", "Application page loaded", shot, logger)

	page, err := sess.HTML(ctx)
	if err != nil {
		return fmt.Errorf("reading page: %w", err)
	}
	if HasCaptcha(page) {
		app.DetectedFields = []model.DetectedField{{
			Name:   "captcha",
			Type:   "captcha",
			Label:  "CAPTCHA detected",
			Status: model.FieldNeedsInput,
		}}
		app.CaptchaFound = true
		app.ScreenshotRef = shot
		app.CurrentPageRef = sess.URL()
		if err := r.transition(ctx, app, model.AppNeedsReview); err != nil {
			return err
		}
		r.audit(ctx, app.ID, "captcha_detected", "CAPTCHA detected, pausing for human review", shot, logger)
		r.audit(ctx, app.ID, "paused_for_review", "Waiting for a reviewer to solve the CAPTCHA", shot, logger)
		r.notifyReview(ctx, *app, listing, logger)
		r.publish(ctx, *app, "CAPTCHA detected", logger)
		return nil
	}

	r.audit(ctx, app.ID, "analyzing", "Analyzing form fields", "", logger)
	fields, err := analyzeFields(ctx, sess, profile, logger)
	if err != nil {
		return err
	}
	logger.Info("detected form fields", "count", len(fields))

	r.audit(ctx, app.ID, "filling", fmt.Sprintf("Attempting to fill %d fields", len(fields)), "", logger)
	fields, err = fillFields(ctx, sess, fields, "", logger)
	if err != nil {
		return err
	}

	resume, cleanup := r.resumeFile(ctx, profile, logger)
	defer cleanup()
	if n := uploadResume(ctx, sess, fields, resume, logger); n > 0 {
		r.audit(ctx, app.ID, "resume_uploaded", "Resume uploaded", "", logger)
	}
	if err := queue.Checkpoint(ctx); err != nil {
		return err
	}

	shot = r.screenshot(ctx, sess, "filled", logger)
	r.audit(ctx, app.ID, "fields_filled", "Form fields processed", shot, logger)

	app.DetectedFields = fields
	app.ScreenshotRef = shot
	app.CurrentPageRef = sess.URL()

	if needsHumanReview(fields) {
		if err := r.transition(ctx, app, model.AppNeedsReview); err != nil {
			return err
		}
		r.audit(ctx, app.ID, "paused_for_review", "Some fields need human input, pausing for review", shot, logger)
		r.publish(ctx, *app, "Needs human review", logger)
	} else {
		if err := r.transition(ctx, app, model.AppReadyToSubmit); err != nil {
			return err
		}
		r.audit(ctx, app.ID, "ready_for_review", "All fields filled, awaiting confirmation before submit", shot, logger)
		r.publish(ctx, *app, "Ready for review", logger)
	}
	r.notifyReview(ctx, *app, listing, logger)
	return nil
}

// Resume fills the reviewed values and submits. Only applications a reviewer
// has signed off are eligible.
func (r *Runner) Resume(ctx context.Context, appID string) error {
	logger := r.logger.With("application_id", appID)
	app, ok, err := r.load(ctx, appID, logger)
	if !ok {
		return err
	}
	if app.Status != model.AppReadyToSubmit || app.ReviewedAt == nil {
		logger.Warn("application is not reviewed and ready to submit, skipping", "status", app.Status)
		return nil
	}

	listing, err := r.listings.GetListing(ctx, app.ListingID)
	if err != nil && app.CurrentPageRef == "" {
		logger.Error("no page to resume", "error", err)
		r.fail(ctx, &app, "Resume apply failed", errors.New("associated listing not found"), "", logger)
		return nil
	}
	profile, err := r.profiles.Profile(ctx)
	if err != nil {
		logger.Warn("no profile for resume upload", "error", err)
		profile = model.Profile{}
	}

	if err := r.transition(ctx, &app, model.AppInProgress); err != nil {
		return r.abort(ctx, nil, &app, "Resume apply failed", err, logger)
	}
	r.audit(ctx, app.ID, "resuming", "Resuming application with reviewed fields", "", logger)
	r.publish(ctx, app, "Resuming application", logger)

	sess, err := r.driver.Open(ctx, browser.Options{UserAgent: applyUserAgent})
	if err != nil {
		return r.abort(ctx, nil, &app, "Resume apply failed", fmt.Errorf("opening browser session: %w", err), logger)
	}
	defer sess.Close()

	if err := r.submit(ctx, sess, &app, listing, profile, logger); err != nil {
		return r.abort(ctx, sess, &app, "Resume apply failed", err, logger)
	}
	return nil
}

func (r *Runner) submit(ctx context.Context, sess browser.Session, app *model.Application, listing model.Listing, profile model.Profile, logger *slog.Logger) error {
	target := app.CurrentPageRef
	if target == "" {
		target = listing.URL
	}
	if err := sess.Navigate(ctx, target); err != nil {
		return fmt.Errorf("navigating to %s: %w", target, err)
	}
	if err := r.settle(ctx); err != nil {
		return err
	}

	resume, cleanup := r.resumeFile(ctx, profile, logger)
	defer cleanup()
	if _, err := fillFields(ctx, sess, app.DetectedFields, resume, logger); err != nil {
		return err
	}
	if err := r.checkCancelled(ctx, app.ID); err != nil {
		return err
	}

	shot := r.screenshot(ctx, sess, "pre_submit", logger)
	r.audit(ctx, app.ID, "fields_filled", "All reviewed fields filled", shot, logger)

	btn := findSubmitButton(ctx, sess)
	if btn == nil {
		app.ScreenshotRef = shot
		if err := r.transition(ctx, app, model.AppNeedsReview); err != nil {
			return err
		}
		r.audit(ctx, app.ID, "submit_failed", "Could not find submit button, needs manual submission", shot, logger)
		r.publish(ctx, *app, "Submit button not found", logger)
		r.notifyReview(ctx, *app, listing, logger)
		return nil
	}
	if err := btn.Click(ctx); err != nil {
		return fmt.Errorf("clicking submit: %w", err)
	}
	if err := r.settle(ctx); err != nil {
		return err
	}

	shot = r.screenshot(ctx, sess, "submitted", logger)
	now := r.now()
	app.SubmittedAt = &now
	app.ScreenshotRef = shot
	app.CurrentPageRef = sess.URL()
	if err := r.transition(ctx, app, model.AppSubmitted); err != nil {
		return err
	}
	r.audit(ctx, app.ID, "submitted", "Application submitted successfully", shot, logger)
	r.publish(ctx, *app, "Application submitted", logger)
	logger.Info("application submitted")
	return nil
}

// Reconcile fails applications stranded in progress since before cutoff,
// typically after a worker crash. It returns how many it moved.
func (r *Runner) Reconcile(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := r.apps.StaleApplications(ctx, model.AppInProgress, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stale applications: %w", err)
	}
	n := 0
	for _, app := range stale {
		logger := r.logger.With("application_id", app.ID)
		msg := fmt.Sprintf("worker lost: in progress since %s", app.UpdatedAt.UTC().Format(time.RFC3339))
		app.ErrorMessage = msg
		if err := r.transition(ctx, &app, model.AppFailed); err != nil {
			logger.Debug("stale application moved concurrently", "error", err)
			continue
		}
		r.audit(ctx, app.ID, "error", msg, "", logger)
		r.publish(ctx, app, msg, logger)
		logger.Warn("failed stale application")
		n++
	}
	return n, nil
}

func (r *Runner) load(ctx context.Context, appID string, logger *slog.Logger) (model.Application, bool, error) {
	app, err := r.apps.GetApplication(ctx, appID)
	if errors.Is(err, model.ErrNotFound) {
		logger.Warn("application not found, skipping")
		return model.Application{}, false, nil
	}
	if err != nil {
		return model.Application{}, false, fmt.Errorf("loading application %s: %w", appID, err)
	}
	return app, true, nil
}

// transition moves app to status `to` if the stored row still has app's
// current status. A concurrent cancel surfaces as ErrCancelled.
func (r *Runner) transition(ctx context.Context, app *model.Application, to model.AppStatus) error {
	from := app.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	app.Status = to
	err := r.apps.UpdateApplication(context.WithoutCancel(ctx), *app, from)
	if err == nil {
		app.UpdatedAt = r.now()
		return nil
	}
	app.Status = from
	if errors.Is(err, model.ErrStatusChanged) {
		if err := r.checkCancelled(context.WithoutCancel(ctx), app.ID); err != nil {
			return err
		}
	}
	return fmt.Errorf("moving application to %s: %w", to, err)
}

func (r *Runner) checkCancelled(ctx context.Context, appID string) error {
	cur, err := r.apps.GetApplication(ctx, appID)
	if err != nil {
		return fmt.Errorf("reloading application: %w", err)
	}
	if cur.Status == model.AppCancelled {
		return ErrCancelled
	}
	return nil
}

// abort records err as the application's failure. A cancellation observed
// mid-flight is not a failure and leaves the task successful.
func (r *Runner) abort(ctx context.Context, sess browser.Session, app *model.Application, prefix string, err error, logger *slog.Logger) error {
	if errors.Is(err, ErrCancelled) {
		logger.Info("application cancelled, stopping")
		return nil
	}
	logger.Error(prefix, "error", err)
	shot := ""
	if sess != nil {
		shot = r.screenshot(ctx, sess, "error", logger)
	}
	r.fail(ctx, app, prefix, err, shot, logger)
	return err
}

func (r *Runner) fail(ctx context.Context, app *model.Application, prefix string, cause error, shot string, logger *slog.Logger) {
	app.ErrorMessage = model.Truncate(cause.Error(), 500)
	if shot != "" {
		app.ScreenshotRef = shot
	}
	if err := r.transition(ctx, app, model.AppFailed); err != nil {
		logger.Warn("recording failure failed", "error", err)
		return
	}
	r.audit(ctx, app.ID, "error", model.Truncate(prefix+": "+cause.Error(), 300), shot, logger)
	r.publish(ctx, *app, model.Truncate(cause.Error(), 200), logger)
}

func (r *Runner) failEarly(ctx context.Context, app *model.Application, msg string, logger *slog.Logger) {
	r.fail(ctx, app, "Auto-apply failed", errors.New(msg), "", logger)
}

func (r *Runner) settle(ctx context.Context) error {
	if r.cfg.Settle <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.cfg.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) screenshot(ctx context.Context, sess browser.Session, label string, logger *slog.Logger) string {
	if r.blobs == nil {
		return ""
	}
	data, contentType, err := sess.Screenshot(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("screenshot failed", "label", label, "error", err)
		return ""
	}
	ref, err := r.blobs.Put(context.WithoutCancel(ctx), "screenshot_"+label, data, contentType)
	if err != nil {
		logger.Warn("storing screenshot failed", "label", label, "error", err)
		return ""
	}
	return ref
}

// resumeFile resolves the profile's resume to a local path. A resume kept in
// the blob store is copied to a temporary file removed by cleanup.
func (r *Runner) resumeFile(ctx context.Context, profile model.Profile, logger *slog.Logger) (string, func()) {
	noop := func() {}
	ref := profile.ResumePath
	if ref == "" {
		return "", noop
	}
	if _, err := os.Stat(ref); err == nil {
		return ref, noop
	}
	if r.blobs == nil {
		return "", noop
	}
	data, err := r.blobs.Get(ctx, ref)
	if err != nil {
		logger.Warn("resume not found on disk or in blob store", "resume", ref, "error", err)
		return "", noop
	}
	dir, err := os.MkdirTemp("", "hunter-resume-*")
	if err != nil {
		logger.Warn("staging resume failed", "error", err)
		return "", noop
	}
	path := filepath.Join(dir, filepath.Base(ref))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.RemoveAll(dir)
		logger.Warn("staging resume failed", "error", err)
		return "", noop
	}
	return path, func() { os.RemoveAll(dir) }
}

func (r *Runner) audit(ctx context.Context, appID, action, details, shot string, logger *slog.Logger) {
	entry := model.AuditEntry{Action: action, Details: details, ScreenshotRef: shot, Timestamp: r.now()}
	if err := r.apps.AppendAudit(context.WithoutCancel(ctx), appID, entry); err != nil {
		logger.Error("appending audit entry failed", "action", action, "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, app model.Application, msg string, logger *slog.Logger) {
	if r.events == nil {
		return
	}
	ev := model.Event{Type: model.EventApplicationUpdate, Data: map[string]any{
		"application_id": app.ID,
		"status":         string(app.Status),
		"message":        msg,
	}}
	if err := r.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}

func (r *Runner) notifyReview(ctx context.Context, app model.Application, listing model.Listing, logger *slog.Logger) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyReview(context.WithoutCancel(ctx), app, listing); err != nil {
		logger.Error("review notification failed", "error", err)
	}
}

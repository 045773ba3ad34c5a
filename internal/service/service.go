// Package service holds the entry points the HTTP surface, the CLI and the
// review TUI call into. Every failure crossing this boundary is a
// *model.Error; store and queue errors are logged and classified here.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/hunter/internal/ai"
	"github.com/amishk599/hunter/internal/autoapply"
	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/queue"
)

const cancelRetries = 3

// Enqueuer is the part of the task queue the entry points need.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts ...queue.EnqueueOption) (string, error)
}

// Service implements the entry points.
type Service struct {
	store        model.Store
	queue        Enqueuer
	profiles     model.ProfileProvider
	assistant    ai.Assistant
	events       model.EventPublisher
	staleRunning time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New creates the service. staleRunning is the board stale-running timeout
// applied to manual dispatch, the same one the scheduler uses.
func New(
	store model.Store,
	q Enqueuer,
	profiles model.ProfileProvider,
	assistant ai.Assistant,
	events model.EventPublisher,
	staleRunning time.Duration,
	logger *slog.Logger,
) *Service {
	if assistant == nil {
		assistant = ai.NopAssistant{}
	}
	return &Service{
		store:        store,
		queue:        q,
		profiles:     profiles,
		assistant:    assistant,
		events:       events,
		staleRunning: staleRunning,
		logger:       logger,
		now:          time.Now,
	}
}

// DispatchScan claims the board and enqueues a scan, returning the task ref.
func (s *Service) DispatchScan(ctx context.Context, boardID string) (string, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return "", s.classify(err, "board %s", boardID)
	}

	now := s.now()
	ok, err := s.store.ClaimScan(ctx, board.ID, now, s.staleRunning)
	if err != nil {
		return "", s.classify(err, "claiming board %s", board.Name)
	}
	if !ok {
		return "", model.Errorf(model.KindAlreadyRunning, "a scan of %s is already running", board.Name)
	}

	taskID, err := s.queue.Enqueue(ctx, queue.KindScanBoard, queue.ScanBoardPayload{BoardID: board.ID})
	if err != nil {
		s.logger.Error("enqueue scan failed", "board", board.Name, "error", err)
		res := model.ScanResult{Status: model.ScanFailed, Error: "enqueue failed: " + err.Error(), FinishedAt: now}
		if ferr := s.store.FinishScan(context.WithoutCancel(ctx), board.ID, res); ferr != nil {
			s.logger.Error("releasing board failed", "board", board.Name, "error", ferr)
		}
		return "", model.Errorf(model.KindUnavailable, "task queue unavailable")
	}
	s.logger.Info("scan dispatched", "board", board.Name, "task_id", taskID)
	return taskID, nil
}

// DispatchAutoApply creates a pending application for the listing and
// enqueues the worker task.
func (s *Service) DispatchAutoApply(ctx context.Context, listingID string) (model.Application, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return model.Application{}, s.classify(err, "listing %s", listingID)
	}
	active, err := s.store.HasActiveApplication(ctx, listing.ID)
	if err != nil {
		return model.Application{}, s.classify(err, "checking applications for %s", listing.ID)
	}
	if active {
		return model.Application{}, model.Errorf(model.KindConflict, "an application for this listing is already in progress")
	}

	app, err := s.store.CreateApplication(ctx, model.Application{ListingID: listing.ID, Status: model.AppPending})
	if err != nil {
		return model.Application{}, s.classify(err, "creating application")
	}
	s.audit(ctx, app.ID, "created", fmt.Sprintf("Auto-apply requested for %s at %s", listing.Title, listing.Company))

	taskID, err := s.queue.Enqueue(ctx, queue.KindAutoApply, queue.ApplicationPayload{ApplicationID: app.ID})
	if err != nil {
		s.logger.Error("enqueue auto-apply failed", "application_id", app.ID, "error", err)
		failed := app
		failed.Status = model.AppFailed
		failed.ErrorMessage = "enqueue failed: " + err.Error()
		if uerr := s.store.UpdateApplication(context.WithoutCancel(ctx), failed, model.AppPending); uerr != nil {
			s.logger.Error("marking application failed", "application_id", app.ID, "error", uerr)
		}
		return model.Application{}, model.Errorf(model.KindUnavailable, "task queue unavailable")
	}

	app.QueueTaskRef = taskID
	if err := s.store.SetQueueTaskRef(ctx, app.ID, taskID); err != nil {
		s.logger.Warn("recording queue task ref failed", "application_id", app.ID, "error", err)
	}
	s.publish(ctx, app, "Auto-apply queued")
	return app, nil
}

// SubmitReview applies the reviewer's field values and queues submission.
func (s *Service) SubmitReview(ctx context.Context, appID string, reviewed map[string]string) (model.Application, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return model.Application{}, s.classify(err, "application %s", appID)
	}
	if app.Status != model.AppNeedsReview && app.Status != model.AppReadyToSubmit {
		return model.Application{}, model.Errorf(model.KindInvalidState,
			"application is %s; review is only accepted while needs_review or ready_to_submit", app.Status)
	}

	from := app.Status
	now := s.now()
	app.DetectedFields = autoapply.MergeReviewed(app.DetectedFields, reviewed)
	app.Status = model.AppReadyToSubmit
	app.ReviewedAt = &now
	if err := s.store.UpdateApplication(ctx, app, from); err != nil {
		if errors.Is(err, model.ErrStatusChanged) {
			return model.Application{}, model.Errorf(model.KindInvalidState, "application changed while submitting the review")
		}
		return model.Application{}, s.classify(err, "saving review")
	}
	s.audit(ctx, app.ID, "review_submitted", fmt.Sprintf("Reviewer provided %d field values", len(reviewed)))

	taskID, err := s.queue.Enqueue(ctx, queue.KindResumeApply, queue.ApplicationPayload{ApplicationID: app.ID})
	if err != nil {
		s.logger.Error("enqueue resume failed", "application_id", app.ID, "error", err)
		return model.Application{}, model.Errorf(model.KindUnavailable, "task queue unavailable; the review is saved, retry submission later")
	}
	app.QueueTaskRef = taskID
	if err := s.store.SetQueueTaskRef(ctx, app.ID, taskID); err != nil {
		s.logger.Warn("recording queue task ref failed", "application_id", app.ID, "error", err)
	}
	s.publish(ctx, app, "Review submitted")
	return s.reload(ctx, app)
}

// Cancel moves the application to cancelled. Cancelling an application that
// already finished returns it unchanged.
func (s *Service) Cancel(ctx context.Context, appID string) (model.Application, error) {
	for attempt := 0; attempt < cancelRetries; attempt++ {
		app, err := s.store.GetApplication(ctx, appID)
		if err != nil {
			return model.Application{}, s.classify(err, "application %s", appID)
		}
		if app.Status.Terminal() {
			return app, nil
		}

		from := app.Status
		app.Status = model.AppCancelled
		err = s.store.UpdateApplication(ctx, app, from)
		if errors.Is(err, model.ErrStatusChanged) {
			continue
		}
		if err != nil {
			return model.Application{}, s.classify(err, "cancelling application")
		}
		s.audit(ctx, app.ID, "cancelled", "Application cancelled from "+string(from))
		s.publish(ctx, app, "Application cancelled")
		return s.reload(ctx, app)
	}
	return model.Application{}, model.Errorf(model.KindConflict, "application kept changing; cancel again")
}

// RequestAIAssist drafts answers for the fields still needing input. It
// never changes the application.
func (s *Service) RequestAIAssist(ctx context.Context, appID string) (map[string]string, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, s.classify(err, "application %s", appID)
	}
	description := ""
	if app.ListingID != "" {
		if l, err := s.store.GetListing(ctx, app.ListingID); err == nil {
			description = l.Description
		}
	}
	profile, err := s.profiles.Profile(ctx)
	if errors.Is(err, model.ErrNoProfile) {
		profile, err = model.Profile{}, nil
	}
	if err != nil {
		return nil, s.classify(err, "loading profile")
	}

	answers, err := s.assistant.Suggest(ctx, app.DetectedFields, description, profile)
	if err != nil {
		s.logger.Error("ai assist failed", "application_id", app.ID, "error", err)
		return nil, model.Errorf(model.KindUnavailable, "ai assistant unavailable")
	}
	return answers, nil
}

// ReviewQueue lists applications waiting on a reviewer, oldest first.
func (s *Service) ReviewQueue(ctx context.Context) ([]model.Application, error) {
	apps, err := s.store.ListApplications(ctx, model.AppNeedsReview, model.AppReadyToSubmit)
	if err != nil {
		return nil, s.classify(err, "listing review queue")
	}
	return apps, nil
}

// Application returns one application with its audit log.
func (s *Service) Application(ctx context.Context, appID string) (model.Application, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return model.Application{}, s.classify(err, "application %s", appID)
	}
	return app, nil
}

// Applications lists applications in any of statuses, or all of them.
func (s *Service) Applications(ctx context.Context, statuses ...model.AppStatus) ([]model.Application, error) {
	apps, err := s.store.ListApplications(ctx, statuses...)
	if err != nil {
		return nil, s.classify(err, "listing applications")
	}
	return apps, nil
}

// Boards lists the configured boards with their scan bookkeeping.
func (s *Service) Boards(ctx context.Context) ([]model.Board, error) {
	boards, err := s.store.ListBoards(ctx)
	if err != nil {
		return nil, s.classify(err, "listing boards")
	}
	return boards, nil
}

// Listing returns one listing.
func (s *Service) Listing(ctx context.Context, listingID string) (model.Listing, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return model.Listing{}, s.classify(err, "listing %s", listingID)
	}
	return l, nil
}

// Listings returns the newest visible listings, optionally for one board.
func (s *Service) Listings(ctx context.Context, boardID string, limit int) ([]model.Listing, error) {
	listings, err := s.store.ListListings(ctx, boardID, limit)
	if err != nil {
		return nil, s.classify(err, "listing listings")
	}
	return listings, nil
}

// classify converts a store error into a *model.Error. Not-found keeps its
// subject; everything else is logged and reported as internal.
func (s *Service) classify(err error, format string, args ...any) error {
	subject := fmt.Sprintf(format, args...)
	var me *model.Error
	switch {
	case errors.As(err, &me):
		return me
	case errors.Is(err, model.ErrNotFound):
		return model.Errorf(model.KindNotFound, "%s not found", subject)
	default:
		s.logger.Error("entry point failed", "op", subject, "error", err)
		return model.Errorf(model.KindInternal, "%s failed", subject)
	}
}

func (s *Service) reload(ctx context.Context, app model.Application) (model.Application, error) {
	fresh, err := s.store.GetApplication(ctx, app.ID)
	if err != nil {
		s.logger.Warn("reloading application failed", "application_id", app.ID, "error", err)
		return app, nil
	}
	return fresh, nil
}

func (s *Service) audit(ctx context.Context, appID, action, details string) {
	entry := model.AuditEntry{Action: action, Details: details, Timestamp: s.now()}
	if err := s.store.AppendAudit(context.WithoutCancel(ctx), appID, entry); err != nil {
		s.logger.Error("appending audit entry failed", "application_id", appID, "action", action, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, app model.Application, msg string) {
	if s.events == nil {
		return
	}
	ev := model.Event{Type: model.EventApplicationUpdate, Data: map[string]any{
		"application_id": app.ID,
		"status":         string(app.Status),
		"message":        msg,
	}}
	if err := s.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}

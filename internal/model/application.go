package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AppStatus is a state of the auto-apply state machine.
type AppStatus string

const (
	AppPending       AppStatus = "pending"
	AppInProgress    AppStatus = "in_progress"
	AppNeedsReview   AppStatus = "needs_review"
	AppReadyToSubmit AppStatus = "ready_to_submit"
	AppSubmitted     AppStatus = "submitted"
	AppFailed        AppStatus = "failed"
	AppCancelled     AppStatus = "cancelled"
)

// ParseAppStatus validates a status string.
func ParseAppStatus(s string) (AppStatus, error) {
	switch st := AppStatus(s); st {
	case AppPending, AppInProgress, AppNeedsReview, AppReadyToSubmit, AppSubmitted, AppFailed, AppCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown application status %q", s)
	}
}

// Terminal reports whether no further transition can leave s.
func (s AppStatus) Terminal() bool {
	return s == AppSubmitted || s == AppFailed || s == AppCancelled
}

// Active reports whether an application in s still occupies its listing.
func (s AppStatus) Active() bool {
	return !s.Terminal()
}

// FieldStatus marks whether a detected form field has a usable value.
type FieldStatus string

const (
	FieldFilled     FieldStatus = "filled"
	FieldNeedsInput FieldStatus = "needs_input"
)

// DetectedField is one form control found on an application page.
type DetectedField struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Label      string      `json:"label"`
	Value      string      `json:"value"`
	Confidence float64     `json:"confidence"`
	Status     FieldStatus `json:"status"`
	Options    []string    `json:"options,omitempty"`
	Key        string      `json:"key,omitempty"`
	Selector   string      `json:"selector,omitempty"`
}

// AuditEntry is an immutable line in an application's audit log.
type AuditEntry struct {
	Action        string    `json:"action"`
	Details       string    `json:"details"`
	ScreenshotRef string    `json:"screenshot_ref,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Application is one auto-apply attempt. Only the worker running its task
// mutates it, except for the review and cancel entry points.
type Application struct {
	ID             string          `json:"id"`
	ListingID      string          `json:"listing_id,omitempty"`
	Status         AppStatus       `json:"status"`
	DetectedFields []DetectedField `json:"detected_fields"`
	ScreenshotRef  string          `json:"screenshot_ref,omitempty"`
	CurrentPageRef string          `json:"current_page_ref,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	QueueTaskRef   string          `json:"queue_task_ref,omitempty"`
	CaptchaFound   bool            `json:"captcha_found"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
	SubmittedAt    *time.Time      `json:"submitted_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	AuditLog       []AuditEntry    `json:"audit_log,omitempty"`
}

// ErrStatusChanged is returned by a conditional update whose expected status
// no longer holds because another writer moved the application first.
var ErrStatusChanged = errors.New("application status changed concurrently")

// ApplicationStore persists applications and their append-only audit log.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app Application) (Application, error)
	GetApplication(ctx context.Context, id string) (Application, error)
	// UpdateApplication writes app only if the stored status still equals
	// expect, returning ErrStatusChanged otherwise.
	UpdateApplication(ctx context.Context, app Application, expect AppStatus) error
	// SetQueueTaskRef records the queue task for an application regardless
	// of its status.
	SetQueueTaskRef(ctx context.Context, id, ref string) error
	ListApplications(ctx context.Context, statuses ...AppStatus) ([]Application, error)
	HasActiveApplication(ctx context.Context, listingID string) (bool, error)
	// StaleApplications lists applications in status not updated since before.
	StaleApplications(ctx context.Context, status AppStatus, before time.Time) ([]Application, error)
	AppendAudit(ctx context.Context, appID string, entry AuditEntry) error
	AuditLog(ctx context.Context, appID string) ([]AuditEntry, error)
}

// Store is the relational store collaborator as a whole.
type Store interface {
	BoardStore
	ListingStore
	ApplicationStore
	Close() error
}

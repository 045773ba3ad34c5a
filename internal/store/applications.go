package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amishk599/hunter/internal/model"
)

const applicationColumns = `id, listing_id, status, detected_fields, screenshot_ref, current_page_ref,
	error_message, queue_task_ref, captcha_found, reviewed_at, submitted_at, created_at, updated_at`

func scanApplication(row rowScanner) (model.Application, error) {
	var (
		a                   model.Application
		listingID           sql.NullString
		fieldsJSON          string
		captcha             int
		reviewed, submitted sql.NullInt64
		created, updated    int64
	)
	err := row.Scan(&a.ID, &listingID, &a.Status, &fieldsJSON, &a.ScreenshotRef, &a.CurrentPageRef,
		&a.ErrorMessage, &a.QueueTaskRef, &captcha, &reviewed, &submitted, &created, &updated)
	if err != nil {
		return model.Application{}, err
	}
	a.ListingID = listingID.String
	if err := json.Unmarshal([]byte(fieldsJSON), &a.DetectedFields); err != nil {
		return model.Application{}, fmt.Errorf("decoding detected fields of application %s: %w", a.ID, err)
	}
	a.CaptchaFound = captcha != 0
	a.ReviewedAt = timePtr(reviewed)
	a.SubmittedAt = timePtr(submitted)
	a.CreatedAt = time.UnixMilli(created)
	a.UpdatedAt = time.UnixMilli(updated)
	return a, nil
}

func encodeFields(fields []model.DetectedField) (string, error) {
	if fields == nil {
		fields = []model.DetectedField{}
	}
	s, err := marshalJSON(fields)
	if err != nil {
		return "", fmt.Errorf("encoding detected fields: %w", err)
	}
	return s, nil
}

// CreateApplication inserts app and returns it with id and timestamps set.
func (s *SQLStore) CreateApplication(ctx context.Context, app model.Application) (model.Application, error) {
	if app.ID == "" {
		app.ID = model.NewID()
	}
	if app.Status == "" {
		app.Status = model.AppPending
	}
	fields, err := encodeFields(app.DetectedFields)
	if err != nil {
		return model.Application{}, err
	}
	now := time.UnixMilli(msOf(s.now()))
	_, err = s.exec(ctx, `
		INSERT INTO applications (id, listing_id, status, detected_fields, screenshot_ref, current_page_ref,
			error_message, queue_task_ref, captcha_found, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID, nullString(app.ListingID), app.Status, fields, app.ScreenshotRef, app.CurrentPageRef,
		app.ErrorMessage, app.QueueTaskRef, boolInt(app.CaptchaFound), msOf(now), msOf(now),
	)
	if err != nil {
		return model.Application{}, fmt.Errorf("creating application: %w", err)
	}
	app.CreatedAt = now
	app.UpdatedAt = now
	return app, nil
}

// GetApplication returns the application with its audit log.
func (s *SQLStore) GetApplication(ctx context.Context, id string) (model.Application, error) {
	row := s.queryRow(ctx, "SELECT "+applicationColumns+" FROM applications WHERE id = ?", id)
	a, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Application{}, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Application{}, fmt.Errorf("loading application %s: %w", id, err)
	}
	a.AuditLog, err = s.AuditLog(ctx, id)
	if err != nil {
		return model.Application{}, err
	}
	return a, nil
}

// UpdateApplication writes every mutable column of app except the queue
// task ref, but only while the stored status still equals expect.
func (s *SQLStore) UpdateApplication(ctx context.Context, app model.Application, expect model.AppStatus) error {
	fields, err := encodeFields(app.DetectedFields)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		UPDATE applications SET status = ?, detected_fields = ?, screenshot_ref = ?, current_page_ref = ?,
			error_message = ?, captcha_found = ?, reviewed_at = ?, submitted_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		app.Status, fields, app.ScreenshotRef, app.CurrentPageRef,
		model.Truncate(app.ErrorMessage, 500), boolInt(app.CaptchaFound),
		nullMs(app.ReviewedAt), nullMs(app.SubmittedAt), msOf(s.now()),
		app.ID, expect,
	)
	if err != nil {
		return fmt.Errorf("updating application %s: %w", app.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating application %s: %w", app.ID, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.queryRow(ctx, "SELECT 1 FROM applications WHERE id = ?", app.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("application %s: %w", app.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("updating application %s: %w", app.ID, err)
	}
	return fmt.Errorf("application %s expected %s: %w", app.ID, expect, model.ErrStatusChanged)
}

// SetQueueTaskRef records the task driving the application. It touches no
// other column, so it cannot race a worker's status update.
func (s *SQLStore) SetQueueTaskRef(ctx context.Context, id, ref string) error {
	res, err := s.exec(ctx, "UPDATE applications SET queue_task_ref = ? WHERE id = ?", ref, id)
	if err != nil {
		return fmt.Errorf("setting task ref for %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListApplications returns applications in any of statuses (all when none
// are given), oldest first.
func (s *SQLStore) ListApplications(ctx context.Context, statuses ...model.AppStatus) ([]model.Application, error) {
	query := "SELECT " + applicationColumns + " FROM applications"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY created_at ASC, id ASC"
	return s.listApplications(ctx, query, args...)
}

// HasActiveApplication reports whether a non-terminal application exists for
// the listing.
func (s *SQLStore) HasActiveApplication(ctx context.Context, listingID string) (bool, error) {
	active := []any{listingID, model.AppPending, model.AppInProgress, model.AppNeedsReview, model.AppReadyToSubmit}
	var exists int
	err := s.queryRow(ctx, `SELECT 1 FROM applications WHERE listing_id = ? AND status IN (?, ?, ?, ?) LIMIT 1`,
		active...).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking active applications for listing %s: %w", listingID, err)
	}
	return true, nil
}

// StaleApplications lists applications in status whose last update is older
// than before.
func (s *SQLStore) StaleApplications(ctx context.Context, status model.AppStatus, before time.Time) ([]model.Application, error) {
	return s.listApplications(ctx,
		"SELECT "+applicationColumns+" FROM applications WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC",
		status, msOf(before))
}

func (s *SQLStore) listApplications(ctx context.Context, query string, args ...any) ([]model.Application, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()

	var out []model.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendAudit adds an entry to the application's audit log.
func (s *SQLStore) AppendAudit(ctx context.Context, appID string, entry model.AuditEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO audit_log (application_id, action, details, screenshot_ref, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		appID, entry.Action, entry.Details, entry.ScreenshotRef, msOf(ts),
	)
	if err != nil {
		return fmt.Errorf("appending audit %q to application %s: %w", entry.Action, appID, err)
	}
	return nil
}

// AuditLog returns the application's audit entries in insertion order.
func (s *SQLStore) AuditLog(ctx context.Context, appID string) ([]model.AuditEntry, error) {
	rows, err := s.query(ctx, `
		SELECT action, details, screenshot_ref, created_at FROM audit_log
		WHERE application_id = ? ORDER BY id ASC`, appID)
	if err != nil {
		return nil, fmt.Errorf("loading audit log of application %s: %w", appID, err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var ts int64
		if err := rows.Scan(&e.Action, &e.Details, &e.ScreenshotRef, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

package notifier

import (
	"context"
	"log/slog"

	"github.com/amishk599/hunter/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes new listings and review requests to the given logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyListings logs each listing with board, company, title, score and URL.
// Returns nil (stdout logging does not fail).
func (n *LogNotifier) NotifyListings(_ context.Context, board model.Board, listings []model.Listing) error {
	for _, l := range listings {
		args := []any{"board", board.Name, "company", l.Company, "title", l.Title,
			"location", l.Location, "match_score", l.MatchScore, "url", l.URL}
		if l.SalaryMin != nil || l.SalaryMax != nil {
			args = append(args, "salary", salaryText(l))
		}
		n.logger.Info("new listing", args...)
	}
	return nil
}

// NotifyReview logs that an application is waiting on the reviewer.
func (n *LogNotifier) NotifyReview(_ context.Context, app model.Application, listing model.Listing) error {
	n.logger.Info("application needs review",
		"application_id", app.ID,
		"status", app.Status,
		"company", listing.Company,
		"title", listing.Title,
		"open_fields", openFields(app),
		"captcha", app.CaptchaFound,
	)
	return nil
}

func openFields(app model.Application) int {
	n := 0
	for _, f := range app.DetectedFields {
		if f.Status == model.FieldNeedsInput {
			n++
		}
	}
	return n
}

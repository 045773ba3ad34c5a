// Package scan runs one board scan end to end: scrape, keyword filter,
// dedup, store, score, then publish and notify.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amishk599/hunter/internal/dedup"
	"github.com/amishk599/hunter/internal/filter"
	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/queue"
	"github.com/amishk599/hunter/internal/scoring"
	"github.com/amishk599/hunter/internal/scraper"
)

// Scraper fetches raw listings from a board URL.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string, cfg model.ScraperConfig) ([]model.RawListing, error)
}

// Result summarizes one scan.
type Result struct {
	Scraped int
	Matched int
	New     []model.Listing
}

// Runner owns the full scan pipeline for a board.
type Runner struct {
	boards   model.BoardStore
	listings model.ListingStore
	scraper  Scraper
	profiles model.ProfileProvider
	events   model.EventPublisher
	notifier model.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner creates a scan runner wired with all its dependencies.
func NewRunner(
	boards model.BoardStore,
	listings model.ListingStore,
	s Scraper,
	profiles model.ProfileProvider,
	events model.EventPublisher,
	notifier model.Notifier,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		boards:   boards,
		listings: listings,
		scraper:  s,
		profiles: profiles,
		events:   events,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle is the queue handler for scan_board tasks.
func (r *Runner) Handle(ctx context.Context, t *queue.Task) error {
	var p queue.ScanBoardPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	_, err := r.Run(ctx, p.BoardID)
	return err
}

// Run scans the board. The board is expected to be claimed (running) by the
// dispatcher; Run always releases it with a success or failed result.
func (r *Runner) Run(ctx context.Context, boardID string) (Result, error) {
	board, err := r.boards.GetBoard(ctx, boardID)
	if errors.Is(err, model.ErrNotFound) {
		r.logger.Warn("board not found, skipping scan", "board_id", boardID)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("loading board %s: %w", boardID, err)
	}

	logger := r.logger.With("board", board.Name)
	if !board.Enabled {
		logger.Info("board is disabled, skipping scan")
		r.finish(ctx, board, model.ScanResult{Status: model.ScanFailed, Error: "board disabled before scan started"}, logger)
		return Result{}, nil
	}

	logger.Info("starting scan", "url", board.URL)
	res, err := r.scan(ctx, board, logger)
	if err != nil {
		logger.Error("scan failed", "error", err)
		r.finish(ctx, board, model.ScanResult{Status: model.ScanFailed, Error: err.Error()}, logger)
		r.publish(ctx, model.Event{Type: model.EventScanError, Data: map[string]any{
			"board_id":   board.ID,
			"board_name": board.Name,
			"error":      model.Truncate(err.Error(), 200),
		}}, logger)
		return res, fmt.Errorf("scanning %s: %w", board.Name, err)
	}

	r.finish(ctx, board, model.ScanResult{Status: model.ScanSuccess, ListingsFound: len(res.New)}, logger)

	for _, l := range res.New {
		r.publish(ctx, model.Event{Type: model.EventNewJob, Data: map[string]any{
			"id":          l.ID,
			"title":       l.Title,
			"company":     l.Company,
			"location":    l.Location,
			"url":         l.URL,
			"match_score": l.MatchScore,
			"board_name":  board.Name,
		}}, logger)
	}
	if len(res.New) > 0 && r.notifier != nil {
		if err := r.notifier.NotifyListings(context.WithoutCancel(ctx), board, res.New); err != nil {
			logger.Error("notify new listings failed", "error", err)
		}
	}

	logger.Info("scanned board",
		"scraped", res.Scraped,
		"matched", res.Matched,
		"new", len(res.New),
	)
	return res, nil
}

func (r *Runner) scan(ctx context.Context, board model.Board, logger *slog.Logger) (Result, error) {
	raw, err := r.scraper.Scrape(ctx, board.URL, board.Scraper)
	if errors.Is(err, scraper.ErrRobotsDisallowed) {
		logger.Info("robots policy disallows board, skipping")
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{Scraped: len(raw)}
	matched := filter.NewKeywordFilter(board.KeywordFilters).Apply(raw)
	res.Matched = len(matched)
	if len(board.KeywordFilters) > 0 {
		logger.Debug("keyword filter applied", "before", len(raw), "after", len(matched))
	}

	for _, rl := range matched {
		l, ok := newListing(board.ID, rl)
		if !ok {
			logger.Warn("skipping listing with missing title or url", "title", rl.Title, "url", rl.URL)
			continue
		}
		inserted, err := r.listings.InsertListing(ctx, &l)
		if err != nil {
			return res, err
		}
		if inserted {
			res.New = append(res.New, l)
		}
	}

	if len(res.New) == 0 {
		return res, nil
	}

	profile, err := r.profiles.Profile(ctx)
	if errors.Is(err, model.ErrNoProfile) {
		logger.Debug("no profile configured, scoring against an empty profile")
		profile = model.Profile{}
	} else if err != nil {
		return res, fmt.Errorf("loading profile: %w", err)
	}

	for i := range res.New {
		score := scoring.Score(res.New[i], board.KeywordFilters, profile)
		if err := r.listings.UpdateMatchScore(ctx, res.New[i].ID, score); err != nil {
			return res, err
		}
		res.New[i].MatchScore = score
	}
	return res, nil
}

// newListing turns a raw listing into a storable one. Listings without a
// title or url are rejected.
func newListing(boardID string, rl model.RawListing) (model.Listing, bool) {
	rl.Title = strings.TrimSpace(rl.Title)
	rl.Company = strings.TrimSpace(rl.Company)
	rl.URL = strings.TrimSpace(rl.URL)
	if rl.Title == "" || rl.URL == "" {
		return model.Listing{}, false
	}
	min, max := dedup.ParseSalary(rl.Salary)
	return model.Listing{
		BoardID:     boardID,
		Title:       rl.Title,
		Company:     rl.Company,
		Location:    strings.TrimSpace(rl.Location),
		URL:         rl.URL,
		Description: rl.Description,
		SalaryMin:   min,
		SalaryMax:   max,
		PostedDate:  rl.PostedDate,
		ContentHash: dedup.ContentHash(rl),
	}, true
}

// finish writes the result even when ctx is already cancelled so the board
// never stays stranded in running.
func (r *Runner) finish(ctx context.Context, board model.Board, res model.ScanResult, logger *slog.Logger) {
	res.FinishedAt = r.now()
	if err := r.boards.FinishScan(context.WithoutCancel(ctx), board.ID, res); err != nil {
		logger.Error("recording scan result failed", "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, ev model.Event, logger *slog.Logger) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}

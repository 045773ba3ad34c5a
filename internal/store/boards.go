package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amishk599/hunter/internal/model"
)

const boardColumns = `id, name, url, enabled, scan_interval_ms, keyword_filters, scraper_config,
	last_scanned_at, last_scan_status, last_scan_error, listings_found_last_scan,
	scan_started_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(row rowScanner) (model.Board, error) {
	var (
		b                     model.Board
		enabled               int
		intervalMs            int64
		keywords, scraperJSON string
		lastScanned, started  sql.NullInt64
		created, updated      int64
	)
	err := row.Scan(&b.ID, &b.Name, &b.URL, &enabled, &intervalMs, &keywords, &scraperJSON,
		&lastScanned, &b.LastScanStatus, &b.LastScanError, &b.ListingsFound,
		&started, &created, &updated)
	if err != nil {
		return model.Board{}, err
	}
	b.Enabled = enabled != 0
	b.ScanInterval = time.Duration(intervalMs) * time.Millisecond
	if err := json.Unmarshal([]byte(keywords), &b.KeywordFilters); err != nil {
		return model.Board{}, fmt.Errorf("decoding keyword filters of board %s: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(scraperJSON), &b.Scraper); err != nil {
		return model.Board{}, fmt.Errorf("decoding scraper config of board %s: %w", b.ID, err)
	}
	b.LastScannedAt = timePtr(lastScanned)
	b.ScanStartedAt = timePtr(started)
	b.CreatedAt = time.UnixMilli(created)
	b.UpdatedAt = time.UnixMilli(updated)
	return b, nil
}

// GetBoard returns the board with the given id.
func (s *SQLStore) GetBoard(ctx context.Context, id string) (model.Board, error) {
	return s.getBoard(ctx, "id", id)
}

// GetBoardByName returns the board with the given name.
func (s *SQLStore) GetBoardByName(ctx context.Context, name string) (model.Board, error) {
	return s.getBoard(ctx, "name", name)
}

func (s *SQLStore) getBoard(ctx context.Context, column, value string) (model.Board, error) {
	row := s.queryRow(ctx, "SELECT "+boardColumns+" FROM boards WHERE "+column+" = ?", value)
	b, err := scanBoard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Board{}, fmt.Errorf("board %s: %w", value, ErrNotFound)
	}
	if err != nil {
		return model.Board{}, fmt.Errorf("loading board %s: %w", value, err)
	}
	return b, nil
}

// ListBoards returns every board ordered by name.
func (s *SQLStore) ListBoards(ctx context.Context) ([]model.Board, error) {
	return s.listBoards(ctx, "SELECT "+boardColumns+" FROM boards ORDER BY name")
}

func (s *SQLStore) listBoards(ctx context.Context, query string, args ...any) ([]model.Board, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	defer rows.Close()

	var out []model.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpsertBoard inserts b or, when a board with the same name exists, updates
// its configuration. Scan bookkeeping is never touched.
func (s *SQLStore) UpsertBoard(ctx context.Context, b model.Board) (model.Board, error) {
	if b.ID == "" {
		b.ID = model.NewID()
	}
	keywords := b.KeywordFilters
	if keywords == nil {
		keywords = []string{}
	}
	kwJSON, err := marshalJSON(keywords)
	if err != nil {
		return model.Board{}, fmt.Errorf("encoding keyword filters: %w", err)
	}
	scJSON, err := marshalJSON(b.Scraper)
	if err != nil {
		return model.Board{}, fmt.Errorf("encoding scraper config: %w", err)
	}

	now := msOf(s.now())
	_, err = s.exec(ctx, `
		INSERT INTO boards (id, name, url, enabled, scan_interval_ms, keyword_filters, scraper_config,
			last_scan_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			url = excluded.url,
			enabled = excluded.enabled,
			scan_interval_ms = excluded.scan_interval_ms,
			keyword_filters = excluded.keyword_filters,
			scraper_config = excluded.scraper_config,
			updated_at = excluded.updated_at`,
		b.ID, b.Name, b.URL, boolInt(b.Enabled), b.ScanInterval.Milliseconds(), kwJSON, scJSON,
		model.ScanNever, now, now,
	)
	if err != nil {
		return model.Board{}, fmt.Errorf("upserting board %s: %w", b.Name, err)
	}
	return s.GetBoardByName(ctx, b.Name)
}

// DueBoards returns enabled boards eligible for a scan at now.
func (s *SQLStore) DueBoards(ctx context.Context, now time.Time, staleAfter time.Duration) ([]model.Board, error) {
	boards, err := s.listBoards(ctx, "SELECT "+boardColumns+" FROM boards WHERE enabled = 1 ORDER BY name")
	if err != nil {
		return nil, err
	}
	due := boards[:0]
	for _, b := range boards {
		if b.DueAt(now, staleAfter) {
			due = append(due, b)
		}
	}
	return due, nil
}

// ClaimScan sets the board to running unless a scan started less than
// staleAfter ago still holds it. The check and the write are one statement.
func (s *SQLStore) ClaimScan(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (bool, error) {
	cutoff := now.Add(-staleAfter)
	res, err := s.exec(ctx, `
		UPDATE boards SET last_scan_status = ?, scan_started_at = ?, updated_at = ?
		WHERE id = ? AND (last_scan_status <> ? OR scan_started_at IS NULL OR scan_started_at <= ?)`,
		model.ScanRunning, msOf(now), msOf(now), id, model.ScanRunning, msOf(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("claiming scan for board %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming scan for board %s: %w", id, err)
	}
	return n == 1, nil
}

// FinishScan records the outcome of a scan and releases the running flag.
func (s *SQLStore) FinishScan(ctx context.Context, id string, res model.ScanResult) error {
	finished := res.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}
	_, err := s.exec(ctx, `
		UPDATE boards SET last_scan_status = ?, last_scan_error = ?, listings_found_last_scan = ?,
			last_scanned_at = ?, scan_started_at = NULL, updated_at = ?
		WHERE id = ?`,
		res.Status, model.Truncate(res.Error, 500), res.ListingsFound,
		msOf(finished), msOf(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("finishing scan for board %s: %w", id, err)
	}
	return nil
}

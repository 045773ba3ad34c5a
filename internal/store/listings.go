package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amishk599/hunter/internal/model"
)

const listingColumns = `id, board_id, title, company, location, url, description,
	salary_min, salary_max, posted_date, content_hash, match_score, is_new, is_hidden,
	created_at, updated_at, seen_at`

func scanListing(row rowScanner) (model.Listing, error) {
	var (
		l                model.Listing
		sMin, sMax, seen sql.NullInt64
		isNew, isHidden  int
		created, updated int64
	)
	err := row.Scan(&l.ID, &l.BoardID, &l.Title, &l.Company, &l.Location, &l.URL, &l.Description,
		&sMin, &sMax, &l.PostedDate, &l.ContentHash, &l.MatchScore, &isNew, &isHidden,
		&created, &updated, &seen)
	if err != nil {
		return model.Listing{}, err
	}
	l.SalaryMin = intPtr(sMin)
	l.SalaryMax = intPtr(sMax)
	l.IsNew = isNew != 0
	l.IsHidden = isHidden != 0
	l.CreatedAt = time.UnixMilli(created)
	l.UpdatedAt = time.UnixMilli(updated)
	l.SeenAt = timePtr(seen)
	return l, nil
}

// InsertListing stores l unless (BoardID, ContentHash) already exists. On
// insert l.ID and timestamps are filled in and IsNew is set.
func (s *SQLStore) InsertListing(ctx context.Context, l *model.Listing) (bool, error) {
	if l.ID == "" {
		l.ID = model.NewID()
	}
	now := s.now()
	res, err := s.exec(ctx, `
		INSERT INTO listings (id, board_id, title, company, location, url, description,
			salary_min, salary_max, posted_date, content_hash, match_score, is_new, is_hidden,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
		ON CONFLICT (board_id, content_hash) DO NOTHING`,
		l.ID, l.BoardID, l.Title, l.Company, l.Location, l.URL, l.Description,
		nullInt(l.SalaryMin), nullInt(l.SalaryMax), l.PostedDate, l.ContentHash, l.MatchScore,
		msOf(now), msOf(now),
	)
	if err != nil {
		return false, fmt.Errorf("inserting listing %q: %w", l.Title, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting listing %q: %w", l.Title, err)
	}
	if n == 0 {
		return false, nil
	}
	l.IsNew = true
	l.CreatedAt = time.UnixMilli(msOf(now))
	l.UpdatedAt = l.CreatedAt
	return true, nil
}

// GetListing returns the listing with the given id.
func (s *SQLStore) GetListing(ctx context.Context, id string) (model.Listing, error) {
	row := s.queryRow(ctx, "SELECT "+listingColumns+" FROM listings WHERE id = ?", id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Listing{}, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Listing{}, fmt.Errorf("loading listing %s: %w", id, err)
	}
	return l, nil
}

// UpdateMatchScore sets the listing's match score.
func (s *SQLStore) UpdateMatchScore(ctx context.Context, id string, score int) error {
	_, err := s.exec(ctx, `UPDATE listings SET match_score = ?, updated_at = ? WHERE id = ?`,
		score, msOf(s.now()), id)
	if err != nil {
		return fmt.Errorf("updating match score of listing %s: %w", id, err)
	}
	return nil
}

// ListListings returns the newest visible listings, optionally for one board.
func (s *SQLStore) ListListings(ctx context.Context, boardID string, limit int) ([]model.Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + listingColumns + " FROM listings WHERE is_hidden = 0"
	var args []any
	if boardID != "" {
		query += " AND board_id = ?"
		args = append(args, boardID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing listings: %w", err)
	}
	defer rows.Close()

	var out []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

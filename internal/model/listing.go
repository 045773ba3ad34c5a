package model

import (
	"context"
	"time"
)

// RawListing is what a scraper strategy extracts from a page, before
// dedup, salary parsing and scoring.
type RawListing struct {
	Title       string
	Company     string
	Location    string
	URL         string
	Salary      string
	PostedDate  string
	Description string
}

// Listing is a stored job posting. (BoardID, ContentHash) is unique.
type Listing struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"board_id"`
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	Location    string     `json:"location"`
	URL         string     `json:"url"`
	Description string     `json:"description"`
	SalaryMin   *int       `json:"salary_min,omitempty"`
	SalaryMax   *int       `json:"salary_max,omitempty"`
	PostedDate  string     `json:"posted_date,omitempty"`
	ContentHash string     `json:"content_hash"`
	MatchScore  int        `json:"match_score"`
	IsNew       bool       `json:"is_new"`
	IsHidden    bool       `json:"is_hidden"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SeenAt      *time.Time `json:"seen_at,omitempty"`
}

// ListingStore persists listings with upsert-by-hash semantics.
type ListingStore interface {
	// InsertListing stores l unless (BoardID, ContentHash) already exists.
	// A duplicate is reported as inserted=false with a nil error.
	InsertListing(ctx context.Context, l *Listing) (inserted bool, err error)
	GetListing(ctx context.Context, id string) (Listing, error)
	UpdateMatchScore(ctx context.Context, id string, score int) error
	ListListings(ctx context.Context, boardID string, limit int) ([]Listing, error)
}

// Notifier tells the operator about new listings and applications waiting on them.
type Notifier interface {
	NotifyListings(ctx context.Context, board Board, listings []Listing) error
	NotifyReview(ctx context.Context, app Application, listing Listing) error
}

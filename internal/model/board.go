package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ScanStatus is the bookkeeping state of a board's most recent scan.
type ScanStatus string

const (
	ScanNever   ScanStatus = "never"
	ScanRunning ScanStatus = "running"
	ScanSuccess ScanStatus = "success"
	ScanFailed  ScanStatus = "failed"
)

// StrategyKind selects the scraper implementation for a board.
type StrategyKind string

const (
	StrategyGeneric    StrategyKind = "generic"
	StrategyGreenhouse StrategyKind = "greenhouse"
	StrategyLever      StrategyKind = "lever"
	StrategyWorkday    StrategyKind = "workday"
)

// ParseStrategyKind maps a config string to a StrategyKind. Empty means generic.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch k := StrategyKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return StrategyGeneric, nil
	case StrategyGeneric, StrategyGreenhouse, StrategyLever, StrategyWorkday:
		return k, nil
	default:
		return "", fmt.Errorf("unknown scraper type %q", s)
	}
}

// PaginationMode is how the generic strategy advances between result pages.
type PaginationMode string

const (
	PaginateClick          PaginationMode = "click"
	PaginateURLParam       PaginationMode = "url_param"
	PaginateInfiniteScroll PaginationMode = "infinite_scroll"
)

// ScraperConfig is the per-board strategy selection and its tuning.
type ScraperConfig struct {
	Type       StrategyKind      `json:"type"`
	Selectors  map[string]string `json:"selectors,omitempty"`
	Pagination PaginationMode    `json:"pagination,omitempty"`
	MaxPages   int               `json:"max_pages,omitempty"`
	PageParam  string            `json:"page_param,omitempty"`
}

// Board is a configured job-listing source with its own scan cadence.
type Board struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	URL            string        `json:"url"`
	Enabled        bool          `json:"enabled"`
	ScanInterval   time.Duration `json:"scan_interval"`
	KeywordFilters []string      `json:"keyword_filters"`
	Scraper        ScraperConfig `json:"scraper_config"`

	LastScannedAt  *time.Time `json:"last_scanned_at,omitempty"`
	LastScanStatus ScanStatus `json:"last_scan_status"`
	LastScanError  string     `json:"last_scan_error,omitempty"`
	ListingsFound  int        `json:"listings_found_last_scan"`
	ScanStartedAt  *time.Time `json:"scan_started_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DueAt reports whether the board should be scanned at now. A board stuck in
// running for at least staleAfter is treated as crashed and becomes eligible.
func (b Board) DueAt(now time.Time, staleAfter time.Duration) bool {
	if !b.Enabled {
		return false
	}
	if b.LastScanStatus == ScanRunning {
		if b.ScanStartedAt != nil && now.Sub(*b.ScanStartedAt) < staleAfter {
			return false
		}
	}
	if b.LastScannedAt == nil {
		return true
	}
	return now.Sub(*b.LastScannedAt) >= b.ScanInterval
}

// ScanResult is what a finished scan writes back onto its board.
type ScanResult struct {
	Status        ScanStatus
	Error         string
	ListingsFound int
	FinishedAt    time.Time
}

// BoardStore reads and writes boards and their scan bookkeeping.
type BoardStore interface {
	GetBoard(ctx context.Context, id string) (Board, error)
	GetBoardByName(ctx context.Context, name string) (Board, error)
	ListBoards(ctx context.Context) ([]Board, error)
	UpsertBoard(ctx context.Context, b Board) (Board, error)
	// DueBoards returns enabled boards eligible for a scan at now.
	DueBoards(ctx context.Context, now time.Time, staleAfter time.Duration) ([]Board, error)
	// ClaimScan flips the board to running unless another scan holds it.
	// It reports false when the board is already running and not stale.
	ClaimScan(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (bool, error)
	FinishScan(ctx context.Context, id string, res ScanResult) error
}

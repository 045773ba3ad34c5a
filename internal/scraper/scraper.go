// Package scraper drives a browser session through a job board, extracting
// raw listings page by page with robots, rate-limit and delay politeness.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/queue"
	"github.com/amishk599/hunter/internal/ratelimit"
	"github.com/amishk599/hunter/internal/retry"
)

// Strategy extracts listings from one kind of board and advances through
// its result pages. A Strategy is created per scrape and may keep state.
type Strategy interface {
	Extract(ctx context.Context, s browser.Session) ([]model.RawListing, error)
	// NextPage advances the session and reports false when there are no
	// more pages.
	NextPage(ctx context.Context, s browser.Session) (bool, error)
}

// Config tunes the shared scrape lifecycle.
type Config struct {
	MinPageDelay    time.Duration
	MaxPageDelay    time.Duration
	MinInitialDelay time.Duration
	MaxInitialDelay time.Duration
	// MaxPages applies when the board does not set its own.
	MaxPages int
}

// DefaultConfig returns the stock politeness settings.
func DefaultConfig() Config {
	return Config{
		MinPageDelay:    2 * time.Second,
		MaxPageDelay:    8 * time.Second,
		MinInitialDelay: time.Second,
		MaxInitialDelay: 3 * time.Second,
		MaxPages:        5,
	}
}

// Scraper runs a board's strategy inside a fresh browser session.
type Scraper struct {
	driver  browser.Driver
	robots  *RobotsChecker
	limiter *ratelimit.HostLimiter
	retry   *retry.Policy
	cfg     Config
	logger  *slog.Logger

	sleep     sleepFunc
	userAgent func() string
}

// New creates a Scraper.
func New(driver browser.Driver, robots *RobotsChecker, limiter *ratelimit.HostLimiter, rp *retry.Policy, cfg Config, logger *slog.Logger) *Scraper {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	return &Scraper{
		driver:    driver,
		robots:    robots,
		limiter:   limiter,
		retry:     rp,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
		userAgent: RandomUserAgent,
	}
}

// Scrape collects raw listings from pageURL using the strategy cfg selects.
// A robots.txt disallow returns ErrRobotsDisallowed without opening a session.
// An empty result is not an error.
func (s *Scraper) Scrape(ctx context.Context, pageURL string, cfg model.ScraperConfig) ([]model.RawListing, error) {
	if !s.robots.Allowed(ctx, pageURL) {
		s.logger.Warn("robots.txt disallows scraping, skipping", "url", pageURL)
		return nil, ErrRobotsDisallowed
	}

	strategy, err := newStrategy(pageURL, cfg, s.env())
	if err != nil {
		return nil, err
	}

	sess, err := s.driver.Open(ctx, browser.Options{UserAgent: s.userAgent()})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.Warn("close browser session", "error", cerr)
		}
	}()

	if err := s.pause(ctx, s.cfg.MinInitialDelay, s.cfg.MaxInitialDelay); err != nil {
		return nil, err
	}

	err = s.retry.Do(ctx, "navigate", func(ctx context.Context) error {
		if err := s.limiter.WaitURL(ctx, pageURL); err != nil {
			return err
		}
		return sess.Navigate(ctx, pageURL)
	})
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if err := s.pause(ctx, s.cfg.MinPageDelay, s.cfg.MaxPageDelay); err != nil {
		return nil, err
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = s.cfg.MaxPages
	}

	var all []model.RawListing
	for page := 1; page <= maxPages; page++ {
		if err := queue.Checkpoint(ctx); err != nil {
			return all, err
		}

		s.logger.Info("scraping page", "page", page, "url", pageURL)
		found, err := strategy.Extract(ctx, sess)
		if err != nil {
			return all, fmt.Errorf("extract page %d of %s: %w", page, pageURL, err)
		}
		all = append(all, found...)

		if page == maxPages {
			break
		}
		if err := s.limiter.WaitURL(ctx, pageURL); err != nil {
			return all, err
		}
		more, err := strategy.NextPage(ctx, sess)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return all, ctxErr
			}
			s.logger.Debug("pagination stopped", "url", pageURL, "error", err)
			break
		}
		if !more {
			break
		}
		if err := s.pause(ctx, s.cfg.MinPageDelay, s.cfg.MaxPageDelay); err != nil {
			return all, err
		}
	}

	s.logger.Info("scrape finished", "url", pageURL, "listings", len(all))
	return all, nil
}

func (s *Scraper) pause(ctx context.Context, min, max time.Duration) error {
	return s.sleep(ctx, jitter(min, max))
}

func (s *Scraper) env() env {
	return env{logger: s.logger, pause: s.pause}
}

// env is what strategies borrow from the scraper.
type env struct {
	logger *slog.Logger
	pause  func(ctx context.Context, min, max time.Duration) error
}

// newStrategy builds the strategy for a board's scraper configuration.
func newStrategy(baseURL string, cfg model.ScraperConfig, e env) (Strategy, error) {
	switch cfg.Type {
	case model.StrategyGeneric, "":
		return newGeneric(baseURL, cfg, e), nil
	case model.StrategyGreenhouse:
		return &greenhouse{baseURL: baseURL, env: e}, nil
	case model.StrategyLever:
		return &lever{baseURL: baseURL, env: e}, nil
	case model.StrategyWorkday:
		return &workday{baseURL: baseURL, env: e}, nil
	default:
		return nil, fmt.Errorf("unknown scraper type %q", cfg.Type)
	}
}

// findByText returns the first element matching selector whose text
// contains any of texts, case-insensitively.
func findByText(ctx context.Context, s browser.Session, selector string, texts ...string) (browser.Element, error) {
	els, err := s.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		t, err := el.Text()
		if err != nil {
			continue
		}
		t = strings.ToLower(t)
		for _, want := range texts {
			if strings.Contains(t, strings.ToLower(want)) {
				return el, nil
			}
		}
	}
	return nil, nil
}

// clickIfEnabled clicks el unless it is disabled. It reports whether the
// click happened.
func clickIfEnabled(ctx context.Context, el browser.Element) (bool, error) {
	if el == nil || browser.Disabled(el) {
		return false, nil
	}
	if err := el.Click(ctx); err != nil {
		if errors.Is(err, browser.ErrNotSupported) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func setCompany(listings []model.RawListing, company string) {
	if company == "" {
		return
	}
	for i := range listings {
		listings[i].Company = company
	}
}

package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// ErrRobotsDisallowed means robots.txt forbids the effective user agent from
// fetching the board URL. Callers skip the board; it is not a failure.
var ErrRobotsDisallowed = errors.New("scraper: disallowed by robots.txt")

// DefaultRobotsAgent is the agent name matched against robots.txt groups.
const DefaultRobotsAgent = "HunterBot"

const robotsTimeout = 10 * time.Second

// RobotsChecker evaluates robots.txt policy. It fails open: a missing file,
// a non-200 response or any fetch or parse error allows the fetch.
type RobotsChecker struct {
	client *http.Client
	agent  string
	logger *slog.Logger
}

// NewRobotsChecker creates a checker that evaluates rules for agent.
func NewRobotsChecker(client *http.Client, agent string, logger *slog.Logger) *RobotsChecker {
	if agent == "" {
		agent = DefaultRobotsAgent
	}
	return &RobotsChecker{client: client, agent: agent, logger: logger}
}

// Allowed reports whether pageURL may be fetched.
func (r *RobotsChecker) Allowed(ctx context.Context, pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		r.logger.Warn("could not check robots.txt, proceeding", "url", pageURL, "error", err)
		return true
	}

	data, err := r.fetch(ctx, u)
	if err != nil {
		r.logger.Warn("could not check robots.txt, proceeding", "url", pageURL, "error", err)
		return true
	}
	if data == nil {
		return true
	}

	rules, err := robotstxt.FromBytes(data)
	if err != nil {
		r.logger.Warn("could not parse robots.txt, proceeding", "url", pageURL, "error", err)
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rules.TestAgent(path, r.agent)
}

// fetch returns the robots.txt body, or nil when the server has none.
func (r *RobotsChecker) fetch(ctx context.Context, page *url.URL) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, robotsTimeout)
	defer cancel()

	robotsURL := page.Scheme + "://" + page.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	return data, nil
}

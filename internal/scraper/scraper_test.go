package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/queue"
	"github.com/amishk599/hunter/internal/ratelimit"
	"github.com/amishk599/hunter/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestScraper builds a Scraper on the static driver whose pauses are
// recorded instead of slept.
func newTestScraper(t *testing.T) (*Scraper, *[]time.Duration) {
	t.Helper()
	log := discardLogger()
	client := &http.Client{Timeout: 5 * time.Second}
	s := New(
		browser.NewStaticDriver(client, log),
		NewRobotsChecker(client, "", log),
		ratelimit.NewHostLimiter(0, nil),
		retry.New(0, time.Millisecond, log),
		DefaultConfig(),
		log,
	)
	var pauses []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return ctx.Err()
	}
	s.userAgent = func() string { return "TestAgent/1.0" }
	return s, &pauses
}

// boardServer serves robots.txt and the given path-to-HTML pages.
func boardServer(t *testing.T, robots string, pages map[string]string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			if robots == "" {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, robots)
			return
		}
		atomic.AddInt32(&hits, 1)
		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		body, ok := pages[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestScrape_RobotsDisallowSkipsBoard(t *testing.T) {
	srv, hits := boardServer(t, "User-agent: HunterBot\nDisallow: /private\n", map[string]string{
		"/private/jobs": `<html><body><div class="job-card"><h3><a href="/j/1">Engineer</a></h3></div></body></html>`,
	})
	s, _ := newTestScraper(t)

	got, err := s.Scrape(context.Background(), srv.URL+"/private/jobs", model.ScraperConfig{})
	if !errors.Is(err, ErrRobotsDisallowed) {
		t.Fatalf("expected ErrRobotsDisallowed, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no listings, got %d", len(got))
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("board page fetched %d times despite disallow", *hits)
	}
}

func TestRobotsChecker_FailsOpen(t *testing.T) {
	log := discardLogger()

	t.Run("404", func(t *testing.T) {
		srv, _ := boardServer(t, "", nil)
		rc := NewRobotsChecker(srv.Client(), "", log)
		if !rc.Allowed(context.Background(), srv.URL+"/jobs") {
			t.Error("missing robots.txt should allow")
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		rc := NewRobotsChecker(srv.Client(), "", log)
		if !rc.Allowed(context.Background(), srv.URL+"/jobs") {
			t.Error("robots.txt 500 should allow")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		rc := NewRobotsChecker(&http.Client{Timeout: time.Second}, "", log)
		if !rc.Allowed(context.Background(), addr+"/jobs") {
			t.Error("fetch error should allow")
		}
	})

	t.Run("other agent disallowed", func(t *testing.T) {
		srv, _ := boardServer(t, "User-agent: OtherBot\nDisallow: /\n", nil)
		rc := NewRobotsChecker(srv.Client(), "", log)
		if !rc.Allowed(context.Background(), srv.URL+"/jobs") {
			t.Error("rules for another agent should not apply")
		}
	})
}

func genericPage(next string, titles ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for i, title := range titles {
		fmt.Fprintf(&b, `<li class="job-card"><h3><a href="/jobs/%s-%d">%s</a></h3>
			<span class="company">Acme</span><span class="location">Remote</span>
			<span class="salary">$100K-$150K</span><time datetime="2026-01-0%d">Jan</time>
			<div class="description"><p>Build <strong>APIs</strong> in Go</p><script>alert(1)</script></div></li>`,
			strings.ToLower(strings.ReplaceAll(title, " ", "-")), i, title, i+1)
	}
	b.WriteString("</ul>")
	b.WriteString(next)
	b.WriteString("</body></html>")
	return b.String()
}

func TestScrape_GenericClickPagination(t *testing.T) {
	srv, _ := boardServer(t, "User-agent: *\nAllow: /\n", map[string]string{
		"/jobs":    genericPage(`<a class="next" href="/jobs/p2">Next</a>`, "Backend Engineer", "Data Engineer"),
		"/jobs/p2": genericPage(`<a class="next disabled" href="/jobs/p3">Next</a>`, "Platform Engineer"),
		"/jobs/p3": genericPage("", "Never Reached"),
	})
	s, pauses := newTestScraper(t)

	got, err := s.Scrape(context.Background(), srv.URL+"/jobs", model.ScraperConfig{Type: model.StrategyGeneric})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 listings, got %d: %+v", len(got), got)
	}

	first := got[0]
	if first.Title != "Backend Engineer" || first.Company != "Acme" || first.Location != "Remote" {
		t.Errorf("first listing = %+v", first)
	}
	if first.URL != srv.URL+"/jobs/backend-engineer-0" {
		t.Errorf("URL = %q", first.URL)
	}
	if first.Salary != "$100K-$150K" || first.PostedDate != "2026-01-01" {
		t.Errorf("salary/date = %q / %q", first.Salary, first.PostedDate)
	}
	if !strings.Contains(first.Description, "**APIs**") || strings.Contains(first.Description, "alert") {
		t.Errorf("description = %q", first.Description)
	}
	if got[2].Title != "Platform Engineer" {
		t.Errorf("third listing = %q", got[2].Title)
	}

	// initial delay, post-navigation delay, one inter-page delay
	if len(*pauses) != 3 {
		t.Fatalf("expected 3 pauses, got %v", *pauses)
	}
	if d := (*pauses)[0]; d < time.Second || d > 3*time.Second {
		t.Errorf("initial delay %v outside 1s..3s", d)
	}
	for _, d := range (*pauses)[1:] {
		if d < 2*time.Second || d > 8*time.Second {
			t.Errorf("page delay %v outside 2s..8s", d)
		}
	}
}

func TestScrape_GenericURLParamRespectsMaxPages(t *testing.T) {
	srv, hits := boardServer(t, "", map[string]string{
		"/search":        genericPage("", "Job One"),
		"/search?page=2": genericPage("", "Job Two"),
		"/search?page=3": genericPage("", "Job Three"),
	})
	s, _ := newTestScraper(t)

	got, err := s.Scrape(context.Background(), srv.URL+"/search", model.ScraperConfig{
		Pagination: model.PaginateURLParam,
		MaxPages:   2,
	})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(got) != 2 || got[1].Title != "Job Two" {
		t.Fatalf("got %+v", got)
	}
	if n := atomic.LoadInt32(hits); n != 2 {
		t.Errorf("expected 2 page fetches, got %d", n)
	}
}

func TestScrape_GenericInfiniteScrollStopsWhenHeightUnchanged(t *testing.T) {
	srv, _ := boardServer(t, "", map[string]string{
		"/feed": genericPage("", "Only Job"),
	})
	s, _ := newTestScraper(t)

	got, err := s.Scrape(context.Background(), srv.URL+"/feed", model.ScraperConfig{
		Pagination: model.PaginateInfiniteScroll,
	})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 listing (static page never grows), got %d", len(got))
	}
}

func TestScrape_GenericFallbackLinksAndCustomSelectors(t *testing.T) {
	srv, _ := boardServer(t, "", map[string]string{
		"/careers": `<html><body>
			<a href="/careers/job/42">Staff Engineer</a>
			<a href="/about">About us</a>
		</body></html>`,
		"/custom": `<html><body>
			<article class="opening"><span class="t">SRE</span><a href="/x/1">view</a></article>
		</body></html>`,
	})
	s, _ := newTestScraper(t)

	got, err := s.Scrape(context.Background(), srv.URL+"/careers", model.ScraperConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "Staff Engineer" || got[0].URL != srv.URL+"/careers/job/42" {
		t.Errorf("fallback = %+v", got)
	}

	got, err = s.Scrape(context.Background(), srv.URL+"/custom", model.ScraperConfig{
		Selectors: map[string]string{"job_card": "article.opening", "title": ".t"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "SRE" || got[0].URL != srv.URL+"/x/1" {
		t.Errorf("custom selectors = %+v", got)
	}
}

func TestScrape_Greenhouse(t *testing.T) {
	srv, _ := boardServer(t, "", map[string]string{
		"/acme": `<html><body><h1>Acme Corp</h1>
			<section class="level-0"><h3>Engineering</h3>
				<div class="opening"><a href="/acme/jobs/1">Backend Engineer</a><span class="location">San Francisco</span></div>
				<div class="opening"><a href="/acme/jobs/2">SRE</a></div>
			</section>
			<a class="next" href="/acme?page=2">Next</a>
		</body></html>`,
	})
	s, _ := newTestScraper(t)

	got, err := s.Scrape(context.Background(), srv.URL+"/acme", model.ScraperConfig{Type: model.StrategyGreenhouse})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2, got %+v", got)
	}
	if got[0].Location != "San Francisco" || got[0].Company != "Acme Corp" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Location != "Engineering" {
		t.Errorf("section header should be pseudo-location, got %q", got[1].Location)
	}
	if got[1].URL != srv.URL+"/acme/jobs/2" {
		t.Errorf("URL = %q", got[1].URL)
	}
}

func TestScrape_Lever(t *testing.T) {
	srv, _ := boardServer(t, "", map[string]string{
		"/acme": `<html><body>
			<div class="main-header-title"><h1>Acme</h1></div>
			<div class="posting">
				<a class="posting-title" href="https://jobs.lever.co/acme/abc">
					<h5>Product Designer</h5>
					<div class="posting-categories">
						<span class="location">Berlin</span>
						<span class="department">Design</span>
						<span class="commitment">Full-time</span>
					</div>
				</a>
			</div>
		</body></html>`,
	})
	s, _ := newTestScraper(t)

	got, err := s.Scrape(context.Background(), srv.URL+"/acme", model.ScraperConfig{Type: model.StrategyLever})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1, got %+v", got)
	}
	l := got[0]
	if l.Title != "Product Designer" || l.Location != "Berlin" || l.Company != "Acme" {
		t.Errorf("listing = %+v", l)
	}
	if l.Description != "Design | Full-time" {
		t.Errorf("description = %q", l.Description)
	}
	if l.URL != "https://jobs.lever.co/acme/abc" {
		t.Errorf("URL = %q", l.URL)
	}
}

func TestScrape_Workday(t *testing.T) {
	srv, _ := boardServer(t, "", map[string]string{
		"/en-US/careers": `<html><body>
			<header><h1>Globex</h1></header>
			<section data-automation-id="jobResults"><ul>
				<li class="css-1"><h3><a data-automation-id="jobTitle" href="/en-US/careers/job/Austin/Engineer_R1">Engineer</a></h3>
					<dl><dd>Austin, TX</dd></dl></li>
				<li class="css-1"><h3><a data-automation-id="jobTitle" href="/en-US/careers/job/Remote/Analyst_R2">Analyst</a></h3>
					<dl><dd>Remote</dd></dl></li>
			</ul></section>
			<button data-automation-id="loadMoreButton" disabled>Show More</button>
		</body></html>`,
	})
	s, pauses := newTestScraper(t)

	got, err := s.Scrape(context.Background(), srv.URL+"/en-US/careers", model.ScraperConfig{Type: model.StrategyWorkday})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2, got %+v", got)
	}
	if got[0].Location != "Austin, TX" || got[1].Location != "Remote" || got[0].Company != "Globex" {
		t.Errorf("listings = %+v", got)
	}

	// the render-settling pause lies in 1s..2s
	var settled bool
	for _, d := range *pauses {
		if d >= time.Second && d <= 2*time.Second {
			settled = true
		}
	}
	if !settled {
		t.Errorf("expected a settling pause, got %v", *pauses)
	}
}

func TestScrape_NavigationErrorIsReturned(t *testing.T) {
	srv, _ := boardServer(t, "", map[string]string{})
	s, _ := newTestScraper(t)

	_, err := s.Scrape(context.Background(), srv.URL+"/missing", model.ScraperConfig{})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected wrapped 404, got %v", err)
	}
}

func TestScrape_SoftDeadlineStopsAtCheckpoint(t *testing.T) {
	srv, _ := boardServer(t, "", map[string]string{
		"/jobs": genericPage("", "Backend Engineer"),
	})
	s, _ := newTestScraper(t)

	ctx := queue.WithSoftDeadline(context.Background(), time.Now().Add(-time.Second))
	_, err := s.Scrape(ctx, srv.URL+"/jobs", model.ScraperConfig{})
	if !errors.Is(err, queue.ErrSoftTimeLimit) {
		t.Fatalf("expected ErrSoftTimeLimit, got %v", err)
	}
}

func TestScrape_UnknownStrategy(t *testing.T) {
	s, _ := newTestScraper(t)
	srv, _ := boardServer(t, "", nil)
	if _, err := s.Scrape(context.Background(), srv.URL, model.ScraperConfig{Type: "indeed"}); err == nil {
		t.Fatal("expected error for unknown scraper type")
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		href, base, want string
	}{
		{"https://x.com/a", "https://b.com/jobs", "https://x.com/a"},
		{"//cdn.x.com/a", "https://b.com/jobs", "https://cdn.x.com/a"},
		{"/jobs/1", "https://b.com/careers?page=2", "https://b.com/jobs/1"},
		{"jobs/1", "https://b.com/careers/", "https://b.com/careers/jobs/1"},
	}
	for _, tt := range tests {
		if got := normalizeURL(tt.href, tt.base); got != tt.want {
			t.Errorf("normalizeURL(%q, %q) = %q, want %q", tt.href, tt.base, got, tt.want)
		}
	}
}

func TestJitterStaysInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(2*time.Second, 8*time.Second)
		if d < 2*time.Second || d > 8*time.Second {
			t.Fatalf("jitter = %v", d)
		}
	}
	if d := jitter(3*time.Second, 3*time.Second); d != 3*time.Second {
		t.Errorf("fixed jitter = %v", d)
	}
}

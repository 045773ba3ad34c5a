package scraper

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/model"
)

// DefaultSelectors are the generic strategy's CSS selectors. A board's
// scraper config overrides them key by key.
var DefaultSelectors = map[string]string{
	"job_card":    ".job-card, .job-listing, .job-item, .posting, [data-job], .job-result, .result-card",
	"title":       "h2 a, h3 a, .job-title a, .title a, [data-job-title], .posting-title",
	"company":     ".company, .company-name, .employer, [data-company], .posting-company",
	"location":    ".location, .job-location, [data-location], .posting-location",
	"link":        "a[href]",
	"salary":      ".salary, .compensation, .pay, [data-salary]",
	"posted_date": ".date, .posted, .posted-date, time, [datetime]",
	"description": ".description, .job-description, .summary, .snippet",
	"next_page":   ".next, .pagination .next, a[rel='next'], .load-more",
}

const fallbackCardSelector = "a[href*='job'], a[href*='position'], a[href*='career']"

// generic extracts listings with configurable selectors and paginates by
// clicking, by URL parameter or by infinite scroll.
type generic struct {
	baseURL    string
	selectors  map[string]string
	pagination model.PaginationMode
	pageParam  string
	page       int
	env
}

func newGeneric(baseURL string, cfg model.ScraperConfig, e env) *generic {
	sel := make(map[string]string, len(DefaultSelectors))
	for k, v := range DefaultSelectors {
		sel[k] = v
	}
	for k, v := range cfg.Selectors {
		if strings.TrimSpace(v) != "" {
			sel[k] = v
		}
	}
	pagination := cfg.Pagination
	if pagination == "" {
		pagination = model.PaginateClick
	}
	param := cfg.PageParam
	if param == "" {
		param = "page"
	}
	return &generic{
		baseURL:    baseURL,
		selectors:  sel,
		pagination: pagination,
		pageParam:  param,
		page:       1,
		env:        e,
	}
}

func (g *generic) Extract(ctx context.Context, s browser.Session) ([]model.RawListing, error) {
	cards, err := s.QueryAll(ctx, g.selectors["job_card"])
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		g.logger.Warn("no job cards found, trying link fallback", "selector", g.selectors["job_card"])
		cards, err = s.QueryAll(ctx, fallbackCardSelector)
		if err != nil {
			return nil, err
		}
	}
	g.logger.Info("found potential job cards", "count", len(cards))

	var out []model.RawListing
	for _, card := range cards {
		l := g.extractCard(card)
		if l.Title != "" && l.URL != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

func (g *generic) extractCard(card browser.Element) model.RawListing {
	var l model.RawListing

	titleEl, _ := card.Query(g.selectors["title"])
	if titleEl != nil {
		t, _ := titleEl.Text()
		l.Title = strings.TrimSpace(t)
	} else {
		t, _ := card.Text()
		for _, line := range strings.Split(t, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				l.Title = line
				break
			}
		}
	}

	if linkEl, _ := card.Query(g.selectors["link"]); linkEl != nil {
		if href, _, _ := linkEl.Attr("href"); href != "" {
			l.URL = normalizeURL(href, g.baseURL)
		}
	} else if titleEl != nil {
		if href, _, _ := titleEl.Attr("href"); href != "" {
			l.URL = normalizeURL(href, g.baseURL)
		}
	}
	if l.URL == "" {
		if href, _, _ := card.Attr("href"); href != "" {
			l.URL = normalizeURL(href, g.baseURL)
		}
	}

	l.Company = browser.FirstText(card, g.selectors["company"])
	l.Location = browser.FirstText(card, g.selectors["location"])
	l.Salary = browser.FirstText(card, g.selectors["salary"])

	if dateEl, _ := card.Query(g.selectors["posted_date"]); dateEl != nil {
		if dt, ok, _ := dateEl.Attr("datetime"); ok && dt != "" {
			l.PostedDate = dt
		} else {
			t, _ := dateEl.Text()
			l.PostedDate = strings.TrimSpace(t)
		}
	}

	if descEl, _ := card.Query(g.selectors["description"]); descEl != nil {
		l.Description = descriptionOf(descEl, g.baseURL)
	}
	return l
}

func (g *generic) NextPage(ctx context.Context, s browser.Session) (bool, error) {
	switch g.pagination {
	case model.PaginateClick:
		return g.nextByClick(ctx, s)
	case model.PaginateInfiniteScroll:
		return g.nextByScroll(ctx, s)
	case model.PaginateURLParam:
		return g.nextByURL(ctx, s)
	}
	return false, nil
}

func (g *generic) nextByClick(ctx context.Context, s browser.Session) (bool, error) {
	next, err := s.Query(ctx, g.selectors["next_page"])
	if err != nil {
		return false, err
	}
	if next == nil {
		next, err = findByText(ctx, s, "button, a", "Next")
		if err != nil || next == nil {
			return false, err
		}
	}
	return clickIfEnabled(ctx, next)
}

// nextByScroll reports exhaustion when the page height stops growing.
func (g *generic) nextByScroll(ctx context.Context, s browser.Session) (bool, error) {
	before, err := s.ScrollHeight(ctx)
	if err != nil {
		return false, err
	}
	if err := s.ScrollToBottom(ctx); err != nil {
		return false, err
	}
	if err := g.pause(ctx, 2*time.Second, 4*time.Second); err != nil {
		return false, err
	}
	after, err := s.ScrollHeight(ctx)
	if err != nil {
		return false, err
	}
	return after > before, nil
}

func (g *generic) nextByURL(ctx context.Context, s browser.Session) (bool, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return false, err
	}
	g.page++
	q := u.Query()
	q.Set(g.pageParam, strconv.Itoa(g.page))
	u.RawQuery = q.Encode()
	if err := s.Navigate(ctx, u.String()); err != nil {
		return false, err
	}
	return true, nil
}

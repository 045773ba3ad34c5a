package scraper

import (
	"context"
	"strings"
	"time"

	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/model"
)

const (
	workdayResults = `[data-automation-id="jobResults"], section[data-automation-id="jobResults"]`
	workdayWait    = 15 * time.Second
	workdayPoll    = 500 * time.Millisecond
)

// workdayCardSelectors are tried in order until one matches.
var workdayCardSelectors = []string{
	`[data-automation-id="jobTitle"], a[data-automation-id="jobTitle"], li[class*="css-"] a[href*="/job/"]`,
	`a[href*="/job/"]`,
}

// workday reads Workday boards, which render client-side: it waits for the
// results container and a settling delay before reading, and pages with a
// "show more" button or a next arrow.
type workday struct {
	baseURL string
	env
}

func (w *workday) Extract(ctx context.Context, s browser.Session) ([]model.RawListing, error) {
	if err := w.waitFor(ctx, s, workdayResults); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.logger.Warn("workday results container not found, trying fallback selectors")
	}
	if err := w.pause(ctx, time.Second, 2*time.Second); err != nil {
		return nil, err
	}

	var cards []browser.Element
	for _, sel := range workdayCardSelectors {
		found, err := s.QueryAll(ctx, sel)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			cards = found
			break
		}
	}

	var out []model.RawListing
	for _, card := range cards {
		title, _ := card.Text()
		title = strings.TrimSpace(title)

		var href string
		if tag, _ := card.Tag(); tag == "a" {
			href, _, _ = card.Attr("href")
		} else if link, _ := card.Query("a"); link != nil {
			href, _, _ = link.Attr("href")
		}
		if title == "" || href == "" {
			continue
		}

		out = append(out, model.RawListing{
			Title:    title,
			Location: workdayLocation(card),
			URL:      normalizeURL(href, w.baseURL),
		})
	}

	if h, _ := s.Query(ctx, `[data-automation-id="orgName"], header h1`); h != nil {
		name, _ := h.Text()
		setCompany(out, strings.TrimSpace(name))
	}
	return out, nil
}

func workdayLocation(card browser.Element) string {
	row, _ := card.Closest("li")
	if row == nil {
		return ""
	}
	details, _ := row.QueryAll(`dd, [data-automation-id="locations"]`)
	for _, d := range details {
		if t, _ := d.Text(); strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

// waitFor polls until selector matches or workdayWait elapses.
func (w *workday) waitFor(ctx context.Context, s browser.Session, selector string) error {
	ctx, cancel := context.WithTimeout(ctx, workdayWait)
	defer cancel()
	for {
		el, err := s.Query(ctx, selector)
		if err != nil {
			return err
		}
		if el != nil {
			return nil
		}
		if err := sleepCtx(ctx, workdayPoll); err != nil {
			return err
		}
	}
}

func (w *workday) NextPage(ctx context.Context, s browser.Session) (bool, error) {
	more, err := s.Query(ctx, `button[data-automation-id="loadMoreButton"]`)
	if err != nil {
		return false, err
	}
	if more == nil {
		more, err = findByText(ctx, s, "button", "Show More", "View More")
		if err != nil {
			return false, err
		}
	}
	clicked, err := clickIfEnabled(ctx, more)
	if err != nil {
		return false, err
	}
	if clicked {
		return true, w.pause(ctx, 3*time.Second, 3*time.Second)
	}

	next, err := s.Query(ctx, `button[data-automation-id="next"], button[aria-label="next"]`)
	if err != nil {
		return false, err
	}
	if next == nil {
		next, err = findByText(ctx, s, "button", "Next")
		if err != nil {
			return false, err
		}
	}
	return clickIfEnabled(ctx, next)
}

package scraper

import (
	"context"
	"strings"

	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/model"
)

// greenhouse reads Greenhouse-hosted boards. Openings are grouped under
// department sections; an opening without its own location inherits the
// section header. All openings render on one page.
type greenhouse struct {
	baseURL string
	env
}

func (g *greenhouse) Extract(ctx context.Context, s browser.Session) ([]model.RawListing, error) {
	openings, err := s.QueryAll(ctx, ".opening, .job-post")
	if err != nil {
		return nil, err
	}
	if len(openings) == 0 {
		return linkFallback(ctx, s, `a[href*="/jobs/"]`, g.baseURL, 0)
	}

	var out []model.RawListing
	for _, op := range openings {
		link, _ := op.Query("a")
		if link == nil {
			continue
		}
		title, _ := link.Text()
		title = strings.TrimSpace(title)
		href, _, _ := link.Attr("href")
		if title == "" || href == "" {
			continue
		}

		location := browser.FirstText(op, ".location, span:last-child")
		if location == "" {
			location = sectionHeader(op)
		}

		out = append(out, model.RawListing{
			Title:    title,
			Location: location,
			URL:      normalizeURL(href, g.baseURL),
		})
	}

	if h, _ := s.Query(ctx, "h1, .company-name, [data-company]"); h != nil {
		name, _ := h.Text()
		setCompany(out, strings.TrimSpace(name))
	}
	return out, nil
}

// sectionHeader returns the heading of the section enclosing el.
func sectionHeader(el browser.Element) string {
	sec, _ := el.Closest("section")
	if sec == nil {
		return ""
	}
	return browser.FirstText(sec, "h2, h3, h4")
}

// NextPage is always false: Greenhouse lists every opening on one page.
func (g *greenhouse) NextPage(context.Context, browser.Session) (bool, error) {
	return false, nil
}

// linkFallback turns bare anchors into listings when a platform's card
// markup is not found. Titles no longer than minTitle are dropped.
func linkFallback(ctx context.Context, s browser.Session, selector, baseURL string, minTitle int) ([]model.RawListing, error) {
	links, err := s.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	var out []model.RawListing
	for _, link := range links {
		title, _ := link.Text()
		title = strings.TrimSpace(title)
		href, _, _ := link.Attr("href")
		if title == "" || href == "" || len(title) <= minTitle {
			continue
		}
		out = append(out, model.RawListing{Title: title, URL: normalizeURL(href, baseURL)})
	}
	return out, nil
}

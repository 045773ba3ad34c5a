package scraper

import (
	"context"
	"strings"

	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/model"
)

// lever reads Lever-hosted boards. Each posting carries categorized
// metadata spans (location, team, commitment); team and commitment become
// the description. All postings render on one page.
type lever struct {
	baseURL string
	env
}

func (l *lever) Extract(ctx context.Context, s browser.Session) ([]model.RawListing, error) {
	postings, err := s.QueryAll(ctx, ".posting")
	if err != nil {
		return nil, err
	}
	if len(postings) == 0 {
		postings, err = s.QueryAll(ctx, `[data-qa="posting-name"]`)
		if err != nil {
			return nil, err
		}
	}
	if len(postings) == 0 {
		return linkFallback(ctx, s, `a[href*="/jobs/"], a[href*="/apply"]`, l.baseURL, 3)
	}

	var out []model.RawListing
	for _, p := range postings {
		titleEl, _ := p.Query(`h5, .posting-name, [data-qa='posting-name']`)
		if titleEl == nil {
			titleEl, _ = p.Query("a")
		}
		if titleEl == nil {
			continue
		}
		title, _ := titleEl.Text()
		title = strings.TrimSpace(title)

		var href string
		if link, _ := p.Query("a.posting-title, a[href]"); link != nil {
			href, _, _ = link.Attr("href")
		}
		if href == "" {
			href, _, _ = p.Attr("href")
		}
		if title == "" || href == "" {
			continue
		}

		var parts []string
		for _, sel := range []string{
			".posting-categories .department, .sort-by-team",
			".posting-categories .commitment",
		} {
			if v := browser.FirstText(p, sel); v != "" {
				parts = append(parts, v)
			}
		}

		out = append(out, model.RawListing{
			Title:       title,
			Location:    browser.FirstText(p, ".posting-categories .location, .sort-by-location, span.workplaceTypes"),
			URL:         normalizeURL(href, l.baseURL),
			Description: strings.Join(parts, " | "),
		})
	}

	if h, _ := s.Query(ctx, ".main-header-title h1, .company-name"); h != nil {
		name, _ := h.Text()
		setCompany(out, strings.TrimSpace(name))
	}
	return out, nil
}

// NextPage is always false: Lever lists every posting on one page.
func (l *lever) NextPage(context.Context, browser.Session) (bool, error) {
	return false, nil
}

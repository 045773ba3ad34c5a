package filter

import (
	"strings"

	"github.com/amishk599/hunter/internal/model"
)

// KeywordFilter matches raw listings whose title or description contains any
// of the board's keywords. Matching is case-insensitive. An empty keyword
// list is treated as "match all".
type KeywordFilter struct {
	keywords []string
}

// NewKeywordFilter returns a filter over the given keywords. Blank keywords
// are ignored.
func NewKeywordFilter(keywords []string) *KeywordFilter {
	f := &KeywordFilter{}
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			f.keywords = append(f.keywords, kw)
		}
	}
	return f
}

// Match reports whether the listing passes the filter.
func (f *KeywordFilter) Match(l model.RawListing) bool {
	if len(f.keywords) == 0 {
		return true
	}
	text := strings.ToLower(l.Title + " " + l.Description)
	for _, kw := range f.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Apply returns the listings that pass the filter, preserving order.
func (f *KeywordFilter) Apply(listings []model.RawListing) []model.RawListing {
	if len(f.keywords) == 0 {
		return listings
	}
	var out []model.RawListing
	for _, l := range listings {
		if f.Match(l) {
			out = append(out, l)
		}
	}
	return out
}

// Package scoring rates listings against the operator profile.
package scoring

import (
	"math"
	"regexp"
	"strings"

	"github.com/amishk599/hunter/internal/model"
)

const (
	keywordWeight  = 0.40
	titleWeight    = 0.35
	locationWeight = 0.25
)

var tokenPattern = regexp.MustCompile(`[a-z0-9+#]+`)

// Breakdown holds the three component scores, each in [0,100].
type Breakdown struct {
	Keyword  float64
	Title    float64
	Location float64
}

// Total combines the components with their weights, clamps to [0,100] and
// rounds half up.
func (b Breakdown) Total() int {
	overall := keywordWeight*b.Keyword + titleWeight*b.Title + locationWeight*b.Location
	overall = math.Max(0, math.Min(100, overall))
	// Snap float noise so 66.4999999 from 0.35*50 style products rounds like 66.5.
	overall = math.Round(overall*1e6) / 1e6
	return int(math.Floor(overall + 0.5))
}

// Score computes the weighted 0-100 match score for a listing.
func Score(l model.Listing, keywords []string, p model.Profile) int {
	return Compute(l, keywords, p).Total()
}

// Compute returns the individual component scores.
func Compute(l model.Listing, keywords []string, p model.Profile) Breakdown {
	return Breakdown{
		Keyword:  KeywordScore(l.Description, keywords),
		Title:    TitleScore(l.Title, p.DesiredTitle),
		Location: LocationScore(l.Location, p.DesiredLocations, p.RemotePreference),
	}
}

// KeywordScore is the share of keywords found (case-insensitive) in text.
// No keywords scores 0, not 100.
func KeywordScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords)) * 100
}

// TitleScore is the fraction of desired-title tokens present in the title.
func TitleScore(title, desired string) float64 {
	want := tokenize(desired)
	if len(want) == 0 {
		return 0
	}
	have := tokenize(title)
	overlap := 0
	for tok := range want {
		if _, ok := have[tok]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(want)) * 100
}

// LocationScore rates a listing location against the desired locations and
// remote preference. With no preference at all it is a neutral 50. A remote
// listing with a remote/any preference, or a substring match on a desired
// location, is 100. A shared city/state token is 60. Anything else is 0,
// including a set preference that simply does not match.
func LocationScore(location, desiredLocations, remotePref string) float64 {
	if desiredLocations == "" && remotePref == "" {
		return 50
	}

	loc := strings.ToLower(location)
	pref := strings.ToLower(strings.TrimSpace(remotePref))
	if pref == "remote" || pref == "any" {
		if strings.Contains(loc, "remote") {
			return 100
		}
	}

	if desiredLocations == "" {
		return 0
	}

	var wanted []string
	for _, part := range strings.Split(desiredLocations, ",") {
		if w := strings.ToLower(strings.TrimSpace(part)); w != "" {
			wanted = append(wanted, w)
		}
	}
	for _, w := range wanted {
		if strings.Contains(loc, w) {
			return 100
		}
	}

	jobTokens := tokenize(location)
	for _, w := range wanted {
		for tok := range tokenize(w) {
			if _, ok := jobTokens[tok]; ok {
				return 60
			}
		}
	}
	return 0
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		out[tok] = struct{}{}
	}
	return out
}

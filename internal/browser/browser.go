// Package browser abstracts the page automation capability used by the
// scraper strategies and the auto-apply runner. A Session is owned by exactly
// one task and must be closed by it.
package browser

import (
	"context"
	"errors"
	"strings"
)

// ErrNotSupported is returned by a driver for an action it cannot perform,
// such as clicking a script-only button without a JavaScript engine.
var ErrNotSupported = errors.New("browser: action not supported by driver")

// Viewport used by every session.
const (
	ViewportWidth  = 1280
	ViewportHeight = 900
)

// Options configure a new session.
type Options struct {
	UserAgent string
}

// Driver opens isolated sessions.
type Driver interface {
	Open(ctx context.Context, opts Options) (Session, error)
	Close() error
}

// Session is a single page owned by one task.
type Session interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	HTML(ctx context.Context) (string, error)
	// Query returns the first match, or nil when nothing matches.
	Query(ctx context.Context, selector string) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	ScrollToBottom(ctx context.Context) error
	ScrollHeight(ctx context.Context) (int, error)
	// Screenshot returns the captured bytes and their content type.
	Screenshot(ctx context.Context) ([]byte, string, error)
	Close() error
}

// Element is a node on the session's current page.
type Element interface {
	Text() (string, error)
	// HTML returns the element's outer markup.
	HTML() (string, error)
	// Attr reports the attribute value and whether it is present.
	Attr(name string) (string, bool, error)
	Tag() (string, error)
	Query(selector string) (Element, error)
	QueryAll(selector string) ([]Element, error)
	// Closest returns the nearest ancestor (or self) matching selector, or nil.
	Closest(selector string) (Element, error)
	Visible() (bool, error)

	Click(ctx context.Context) error
	Fill(value string) error
	// Select picks the option whose visible label or value equals label.
	Select(label string) error
	SetChecked(checked bool) error
	SetFiles(paths []string) error
}

// FirstText returns the trimmed text of the first element matching selector
// under el, or "" when none matches.
func FirstText(el Element, selector string) string {
	m, err := el.Query(selector)
	if err != nil || m == nil {
		return ""
	}
	s, err := m.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// Disabled reports whether a control carries a disabled attribute or class.
func Disabled(el Element) bool {
	if _, ok, _ := el.Attr("disabled"); ok {
		return true
	}
	if v, ok, _ := el.Attr("aria-disabled"); ok && v == "true" {
		return true
	}
	class, _, _ := el.Attr("class")
	return strings.Contains(class, "disabled")
}

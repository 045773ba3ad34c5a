package scraper

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"github.com/amishk599/hunter/internal/browser"
)

var (
	descriptionPolicy = bluemonday.UGCPolicy()
	mdConverter       = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
)

// cleanDescription sanitizes a description fragment and renders it as
// markdown. It falls back to the plain text when conversion yields nothing.
func cleanDescription(rawHTML, pageURL, fallback string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return fallback
	}
	safe := descriptionPolicy.Sanitize(rawHTML)
	md, err := mdConverter.ConvertString(safe, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(md) == "" {
		return fallback
	}
	return strings.TrimSpace(md)
}

// descriptionOf extracts a listing description from el.
func descriptionOf(el browser.Element, pageURL string) string {
	text, _ := el.Text()
	text = strings.TrimSpace(text)
	markup, err := el.HTML()
	if err != nil {
		return text
	}
	return cleanDescription(markup, pageURL, text)
}

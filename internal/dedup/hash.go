// Package dedup holds the stateless helpers that turn raw scraped text into
// stable listing identity and structured salary bounds.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/amishk599/hunter/internal/model"
)

// ContentHash returns the deduplication key for a raw listing. The URL is
// canonicalized (trimmed, lowercased, trailing slashes removed) and hashed;
// listings without a URL hash their title and company instead.
func ContentHash(l model.RawListing) string {
	return hashKey(l.URL, l.Title, l.Company)
}

func hashKey(rawURL, title, company string) string {
	u := strings.TrimRight(strings.ToLower(strings.TrimSpace(rawURL)), "/")
	key := u
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(title)) + "|" + strings.ToLower(strings.TrimSpace(company))
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

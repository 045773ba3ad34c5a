// Package ratelimit keeps scrapers polite by spacing requests to the same host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter enforces a minimum gap between requests to the same host.
// All scrape sessions in a process should share one instance.
type HostLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter // key: lowercased host
	minDelay  time.Duration
	overrides map[string]time.Duration
}

// NewHostLimiter creates a limiter allowing one request per minDelay per
// host. overrides replaces minDelay for specific hosts.
func NewHostLimiter(minDelay time.Duration, overrides map[string]time.Duration) *HostLimiter {
	o := make(map[string]time.Duration, len(overrides))
	for h, d := range overrides {
		o[strings.ToLower(h)] = d
	}
	return &HostLimiter{
		limiters:  make(map[string]*rate.Limiter),
		minDelay:  minDelay,
		overrides: o,
	}
}

// Wait blocks until a request to host is allowed.
// Returns an error if the context is cancelled while waiting.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if err := h.limiterFor(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", host, err)
	}
	return nil
}

// WaitURL is Wait keyed by the host of rawURL.
func (h *HostLimiter) WaitURL(ctx context.Context, rawURL string) error {
	return h.Wait(ctx, HostOf(rawURL))
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	host = strings.ToLower(host)

	h.mu.Lock()
	defer h.mu.Unlock()

	if lim, ok := h.limiters[host]; ok {
		return lim
	}
	delay := h.minDelay
	if d, ok := h.overrides[host]; ok {
		delay = d
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	lim := rate.NewLimiter(limit, 1)
	h.limiters[host] = lim
	return lim
}

// HostOf returns the lowercased host of rawURL, or rawURL itself if it does
// not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Host)
}

package model

import "context"

// Event types pushed to live clients.
const (
	EventNewJob            = "new_job"
	EventApplicationUpdate = "application_update"
	EventScanError         = "scan_error"
)

// Event is the payload shape carried by the relay.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventPublisher pushes events toward the live-client relay. Publishing is
// best-effort; implementations must not fail when nobody is listening.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Truncate cuts s to at most n bytes on a rune boundary.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

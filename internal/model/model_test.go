package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBoardDueAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name  string
		board Board
		want  bool
	}{
		{"never scanned", Board{Enabled: true, ScanInterval: time.Hour}, true},
		{"disabled", Board{Enabled: false, ScanInterval: time.Hour}, false},
		{"interval not elapsed", Board{Enabled: true, ScanInterval: time.Hour, LastScannedAt: ago(30 * time.Minute), LastScanStatus: ScanSuccess}, false},
		{"interval elapsed", Board{Enabled: true, ScanInterval: time.Hour, LastScannedAt: ago(time.Hour), LastScanStatus: ScanSuccess}, true},
		{"running fresh", Board{Enabled: true, ScanInterval: time.Minute, LastScannedAt: ago(2 * time.Hour), LastScanStatus: ScanRunning, ScanStartedAt: ago(5 * time.Minute)}, false},
		{"running stale", Board{Enabled: true, ScanInterval: time.Minute, LastScannedAt: ago(2 * time.Hour), LastScanStatus: ScanRunning, ScanStartedAt: ago(20 * time.Minute)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.board.DueAt(now, 15*time.Minute); got != tt.want {
				t.Errorf("DueAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseStrategyKind(t *testing.T) {
	for in, want := range map[string]StrategyKind{
		"":           StrategyGeneric,
		"Greenhouse": StrategyGreenhouse,
		" lever ":    StrategyLever,
		"workday":    StrategyWorkday,
	} {
		got, err := ParseStrategyKind(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategyKind(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseStrategyKind("taleo"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestAppStatus(t *testing.T) {
	if _, err := ParseAppStatus("needs_review"); err != nil {
		t.Errorf("ParseAppStatus: %v", err)
	}
	if _, err := ParseAppStatus("NEEDS_REVIEW"); err == nil {
		t.Error("status parsing should be exact")
	}

	terminal := map[AppStatus]bool{
		AppPending: false, AppInProgress: false, AppNeedsReview: false, AppReadyToSubmit: false,
		AppSubmitted: true, AppFailed: true, AppCancelled: true,
	}
	for st, want := range terminal {
		if st.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", st, !want)
		}
		if st.Active() == want {
			t.Errorf("%s.Active() = %v", st, want)
		}
	}
}

func TestErrorKindOf(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", Errorf(KindAlreadyRunning, "board %s", "acme"))
	if got := ErrorKindOf(err); got != KindAlreadyRunning {
		t.Errorf("ErrorKindOf = %q", got)
	}
	if got := ErrorKindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("foreign error kind = %q, want internal", got)
	}
	if msg := Errorf(KindNotFound, "listing %s", "l-1").Error(); msg != "not_found: listing l-1" {
		t.Errorf("Error() = %q", msg)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Errorf("got %q", got)
	}
	// "é" is two bytes; cutting inside it backs off to the rune start.
	if got := Truncate("aé", 2); got != "a" {
		t.Errorf("got %q", got)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b || len(a) != 36 {
		t.Errorf("NewID = %q, %q", a, b)
	}
}

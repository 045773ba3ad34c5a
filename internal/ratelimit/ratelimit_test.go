package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWait_SameHost_EnforcesMinDelay(t *testing.T) {
	limiter := NewHostLimiter(100*time.Millisecond, nil)
	ctx := context.Background()

	// First call should return immediately.
	if err := limiter.Wait(ctx, "boards.greenhouse.io"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx, "boards.greenhouse.io"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	elapsed := time.Since(start)

	// Should have waited at least ~100ms (allow 80ms for timer jitter).
	if elapsed < 80*time.Millisecond {
		t.Errorf("expected >= 80ms wait, got %v", elapsed)
	}
}

func TestWait_DifferentHosts_NoCrossBlocking(t *testing.T) {
	limiter := NewHostLimiter(200*time.Millisecond, nil)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "boards.greenhouse.io"); err != nil {
		t.Fatalf("greenhouse wait: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx, "jobs.lever.co"); err != nil {
		t.Fatalf("lever wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected lever wait to be near-instant, got %v", elapsed)
	}
}

func TestWait_OverrideAppliesPerHost(t *testing.T) {
	limiter := NewHostLimiter(5*time.Second, map[string]time.Duration{"Fast.Example.com": 0})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx, "fast.example.com"); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("override host should not be throttled, took %v", elapsed)
	}
}

func TestWait_ContextCancellation(t *testing.T) {
	limiter := NewHostLimiter(5*time.Second, nil)

	// Seed the limiter so the next call would need to wait.
	if err := limiter.Wait(context.Background(), "example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx, "example.com"); err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"https://Boards.Greenhouse.io/acme": "boards.greenhouse.io",
		"http://localhost:8080/jobs?page=2": "localhost:8080",
		"not a url":                         "not a url",
	}
	for in, want := range tests {
		if got := HostOf(in); got != want {
			t.Errorf("HostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

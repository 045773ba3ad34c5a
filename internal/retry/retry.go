package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/amishk599/hunter/internal/model"
)

// Policy retries transient failures with exponential backoff and jitter.
// Errors that Permanent marks, context cancellation and non-429 4xx
// responses are returned immediately.
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// New builds a retry policy.
// maxRetries is the number of additional attempts after the first failure.
// baseDelay is the delay before the first retry, doubled on each subsequent retry.
func New(maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Policy {
	return &Policy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// Do runs op, retrying it while it fails with a retryable error.
func (p *Policy) Do(ctx context.Context, what string, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil || !IsRetryable(err) {
		return err
	}

	lastErr := err
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		delay := p.backoffDelay(attempt, lastErr)

		p.logger.Warn("retrying after transient error",
			"op", what,
			"attempt", attempt,
			"max_retries", p.maxRetries,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		err = op(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
// If the error includes a Retry-After duration (HTTP 429), that takes precedence.
func (p *Policy) backoffDelay(attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable returns true if the error represents a transient failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 {
			return true
		}
		if httpErr.StatusCode >= 500 {
			return true
		}
		return false
	}

	// Network, DNS and browser protocol errors.
	return true
}

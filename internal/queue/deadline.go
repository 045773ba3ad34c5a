package queue

import (
	"context"
	"errors"
	"time"
)

// ErrSoftTimeLimit is returned by Checkpoint once the soft ceiling passes.
// Handlers should stop, clean up and return it.
var ErrSoftTimeLimit = errors.New("soft time limit exceeded")

// ErrHardTimeLimit is recorded for tasks that outlive their hard ceiling.
var ErrHardTimeLimit = errors.New("hard time limit exceeded")

type softDeadlineKey struct{}

// WithSoftDeadline returns a context carrying the soft deadline t.
func WithSoftDeadline(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, softDeadlineKey{}, t)
}

// SoftDeadline returns the soft deadline carried by ctx, if any.
func SoftDeadline(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(softDeadlineKey{}).(time.Time)
	return t, ok
}

// Checkpoint is called by long-running handlers between units of work. It
// returns ctx.Err() once the context is done and ErrSoftTimeLimit once the
// soft deadline has passed.
func Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t, ok := SoftDeadline(ctx); ok && !time.Now().Before(t) {
		return ErrSoftTimeLimit
	}
	return nil
}

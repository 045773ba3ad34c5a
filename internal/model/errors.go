package model

import (
	"errors"
	"fmt"
	"time"
)

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies failures returned across the entry-point boundary.
type ErrorKind string

const (
	KindNotFound       ErrorKind = "not_found"
	KindAlreadyRunning ErrorKind = "already_running"
	KindInvalidState   ErrorKind = "invalid_state"
	KindConflict       ErrorKind = "conflict"
	KindUnavailable    ErrorKind = "unavailable"
	KindInternal       ErrorKind = "internal"
)

// Error is the structured {kind, message} failure returned by entry points.
// Raw driver and store errors never cross that boundary unwrapped.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrorKindOf returns the kind of err, or KindInternal for foreign errors.
func ErrorKindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common application errors.
var (
	// Credential errors.
	ErrAuth          = errors.New("authentication failed")
	ErrTokenNotFound = errors.New("token not found")
	ErrNoRefresh     = errors.New("no refresh token available")

	// Transport errors.
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrStreamClosed = errors.New("stream closed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// FailureClass partitions errors by how the supervisor must react to them.
type FailureClass int

const (
	// FailureTransient covers rate limits, 5xx responses, connection drops
	// and DNS failures. The loop logs and retries with backoff.
	FailureTransient FailureClass = iota
	// FailureAuth covers 401s, revoked tokens and missing refresh tokens.
	// The supervisor degrades and attempts re-acquisition.
	FailureAuth
	// FailureFatal covers missing or unusable configuration. The process
	// must stop with a non-zero status.
	FailureFatal
)

func (c FailureClass) String() string {
	switch c {
	case FailureAuth:
		return "auth"
	case FailureFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// Classify maps an error onto the failure taxonomy. Anything not
// recognized as an auth or fatal failure is treated as transient, so the
// loop keeps running by default.
func Classify(err error) FailureClass {
	switch {
	case errors.Is(err, ErrAuth), errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrNoRefresh):
		return FailureAuth
	case errors.Is(err, ErrMissingConfig), errors.Is(err, ErrInvalidConfig):
		return FailureFatal
	default:
		return FailureTransient
	}
}

// IsDNSFailure reports whether an error stems from name resolution, which
// the supervisor treats as transient but deserving a wider backoff.
func IsDNSFailure(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsCancellation reports whether an error is a context cancellation or
// deadline rather than a real failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// UserError represents an error that should be shown to the user with
// actionable guidance.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

package provider

import (
	"context"
	"errors"
)

// TransientError marks a failure worth retrying: timeouts, rate limits,
// transient network errors, server-side 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient provider failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// UnavailableError marks a terminal failure: missing or rejected
// credentials, a backend that is not installed or not reachable, or a
// request the provider will never accept. Never retried.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "provider unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should count against the retry budget.
// Attempt timeouts classify as transient per the retry contract.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var transient *TransientError
	return errors.As(err, &transient)
}

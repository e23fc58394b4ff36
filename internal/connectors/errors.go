package connectors

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ConnectionError covers network failures, 5xx responses, and timeouts.
// Retryable up to the connector retry ceiling.
type ConnectionError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: connection error: %v", e.Provider, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError covers rejected credentials. Never retried.
type AuthenticationError struct {
	Provider string
	Op       string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s %s: authentication error: %v", e.Provider, e.Op, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ValidationError covers SSRF/domain/schema rejections. Fatal to the call.
type ValidationError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: validation error: %v", e.Provider, e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func NewConnectionError(provider, op string, err error) error {
	return &ConnectionError{Provider: provider, Op: op, Err: err}
}

func NewAuthenticationError(provider, op string, err error) error {
	return &AuthenticationError{Provider: provider, Op: op, Err: err}
}

func NewValidationError(provider, op string, err error) error {
	return &ValidationError{Provider: provider, Op: op, Err: err}
}

// IsRetryable reports whether an error may succeed on another attempt:
// connection errors and timeouts are, authentication and validation
// rejections are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return false
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return false
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if os.IsTimeout(err) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

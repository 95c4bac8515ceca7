// Package errors provides structured error types for the Todoist remote access layer.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrAuthFailure  = errors.New("authentication failed")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
	ErrRejected     = errors.New("request rejected")
	ErrTooManyPages = errors.New("too many pages")
)

// APIError represents a single failed exchange with an external API.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	// RetryAfter is the server-suggested wait, zero when the response carried none.
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// IsRateLimit reports whether err is a rate-limit signal.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return errors.Is(err, ErrRateLimited)
}

// RetryAfter returns the server-suggested wait carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

// Kind classifies a remote failure as seen by callers of the access layer.
type Kind int

const (
	KindRejected Kind = iota + 1
	KindRateLimited
	KindUnavailable
	KindTooManyPages
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindRateLimited:
		return "rate limited"
	case KindUnavailable:
		return "unavailable"
	case KindTooManyPages:
		return "too many pages"
	default:
		return "unknown"
	}
}

// RemoteError is the uniform failure returned by every remote operation.
type RemoteError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Attempts   int
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets callers match a RemoteError against the package sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrTooManyPages:
		return e.Kind == KindTooManyPages
	case ErrAuthFailure:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Classify converts the final error of a remote operation into a RemoteError.
// Context cancellation is returned unchanged.
func Classify(op string, err error, attempts int) error {
	if err == nil {
		return nil
	}
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	re := &RemoteError{Op: op, Attempts: attempts, Err: err, Message: err.Error()}
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		re.StatusCode = apiErr.StatusCode
		re.Message = apiErr.Message
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			re.Kind = KindRateLimited
		case apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusRequestTimeout:
			re.Kind = KindUnavailable
		default:
			re.Kind = KindRejected
		}
	case errors.Is(err, ErrRateLimited):
		re.Kind = KindRateLimited
	case errors.Is(err, ErrTooManyPages):
		re.Kind = KindTooManyPages
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrAuthFailure):
		re.Kind = KindRejected
	default:
		re.Kind = KindUnavailable
	}
	return re
}

// IsFatal reports whether err should end a triage session rather than a single step.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTooManyPages) || errors.Is(err, ErrAuthFailure)
}

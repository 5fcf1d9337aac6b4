package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoAdapter         = errors.New("no adapter for source kind")
	ErrParse             = errors.New("parse error")
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidID         = errors.New("invalid motion id")
)

// HTTPStatusError is returned by adapters and clients for non-2xx responses.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the status is worth another attempt:
// 408, 425, 429 and every 5xx.
func (e *HTTPStatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500 && e.StatusCode <= 599
}

// Parse wraps err as a permanent parse failure.
func Parse(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrParse, what, err)
}

// Validation builds a permanent validation failure.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsPermanent reports whether err belongs to the permanent-source class.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNoAdapter) || errors.Is(err, ErrParse) || errors.Is(err, ErrValidation)
}

// IsRetryable classifies err into the transient-network class: timeouts,
// deadline aborts, network-level failures and retryable HTTP statuses.
// Explicit cancellation and permanent-source errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// Joined errors (e.g. every language of a multi-request source failed)
	// are retryable when any cause is.
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if IsRetryable(e) {
				return true
			}
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "connection refused", "broken pipe", "i/o timeout", "no such host", "eof"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Class names the error class for failure manifests.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoAdapter):
		return "no_adapter"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case IsRetryable(err):
		return "transient"
	default:
		return "permanent"
	}
}

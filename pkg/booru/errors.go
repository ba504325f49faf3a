package booru

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNotFound indicates the item does not exist on the board. It is
// permanent and never retried.
var ErrNotFound = errors.New("item not found")

// HTTPError represents a non-success HTTP response from the board.
type HTTPError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// IsNotFound returns true if the error indicates the item doesn't exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 404 || httpErr.StatusCode == 410
	}
	return false
}

// IsRetryable returns true if the error is transient and the operation should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Permanent errors are not retryable
	if IsNotFound(err) {
		return false
	}

	// Timeouts and other network errors are retryable
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Server errors and throttling - retryable
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}

	// Check error message for common patterns
	errStr := err.Error()
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "unexpected EOF") ||
		strings.Contains(errStr, "temporary failure") {
		return true
	}

	return false
}

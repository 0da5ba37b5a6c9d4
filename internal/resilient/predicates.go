package resilient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
)

// DefaultRetryStatus retries 408, 429 and every 5xx.
func DefaultRetryStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		(status >= http.StatusInternalServerError && status <= 599)
}

// RetryStatuses builds a status predicate from an explicit list.
func RetryStatuses(codes ...int) func(int) bool {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return func(status int) bool {
		_, ok := set[status]
		return ok
	}
}

// IsRetryableError accepts connection failures, timeouts and exhausted retries.
// Cancellation by the caller is filtered out before the predicate is consulted.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetriesExhausted) {
		return true
	}
	// *url.Error implements net.Error itself, look at what it wraps
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

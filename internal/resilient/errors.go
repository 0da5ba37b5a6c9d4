package resilient

import (
	"errors"
	"fmt"
	"time"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// TransportError is returned when a retryable transport failure outlives the policy ceilings.
type TransportError struct {
	Method   string
	URL      string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s after %d attempt(s) in %s: %v", e.Method, e.URL, ErrRetriesExhausted, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Err}
}

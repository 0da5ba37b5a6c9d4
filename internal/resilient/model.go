package resilient

import (
	"net/http"
	"time"

	"github.com/RassulYunussov/erestclient/internal/common"
)

const (
	DefaultMaxTime     = 120 * time.Second
	DefaultMaxTries    = 10
	DefaultMaxBackoff  = 15 * time.Second
	DefaultBackoffUnit = time.Second
)

// Policy decides which outcomes are retried and how long to keep trying.
// A zero MaxTime or MaxTries lifts that ceiling; lifting both retries until
// the caller's context is done.
type Policy struct {
	// RetryOnStatus reports whether a response status is retryable. Nil means DefaultRetryStatus.
	RetryOnStatus func(status int) bool
	// RetryOnError reports whether a transport error is retryable. Nil means IsRetryableError.
	RetryOnError func(err error) bool
	// MaxTime bounds the elapsed time of one logical call.
	MaxTime time.Duration
	// MaxTries bounds the number of physical attempts of one logical call.
	MaxTries int
	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration
	// BackoffUnit scales the Fibonacci sequence. Zero means DefaultBackoffUnit.
	BackoffUnit time.Duration
	// Jitter adds up to half of every wait.
	Jitter bool
	// OnBackoff observes every transition to waiting. It must not influence control flow.
	OnBackoff func(BackoffEvent)
}

// BackoffEvent describes a retryable failure and the wait that follows it.
type BackoffEvent struct {
	// Attempt is the 1-based ordinal of the attempt that just failed.
	Attempt  int
	Wait     time.Duration
	Elapsed  time.Duration
	Outcome  string
	Request  *http.Request
	Response *http.Response
	Err      error
}

func DefaultPolicy() Policy {
	return Policy{
		RetryOnStatus: DefaultRetryStatus,
		RetryOnError:  IsRetryableError,
		MaxTime:       DefaultMaxTime,
		MaxTries:      DefaultMaxTries,
		MaxBackoff:    DefaultMaxBackoff,
		BackoffUnit:   DefaultBackoffUnit,
	}
}

// Unbounded reports whether neither ceiling is set.
func (p Policy) Unbounded() bool {
	return p.MaxTime == 0 && p.MaxTries == 0
}

func (p Policy) Validate() error {
	switch {
	case p.MaxTime < 0:
		return &common.ConfigurationError{Component: "retry policy", Field: "MaxTime", Reason: "must not be negative"}
	case p.MaxTries < 0:
		return &common.ConfigurationError{Component: "retry policy", Field: "MaxTries", Reason: "must not be negative"}
	case p.MaxBackoff < 0:
		return &common.ConfigurationError{Component: "retry policy", Field: "MaxBackoff", Reason: "must not be negative"}
	case p.BackoffUnit < 0:
		return &common.ConfigurationError{Component: "retry policy", Field: "BackoffUnit", Reason: "must not be negative"}
	}
	return nil
}

func (p Policy) withDefaults() Policy {
	if p.RetryOnStatus == nil {
		p.RetryOnStatus = DefaultRetryStatus
	}
	if p.RetryOnError == nil {
		p.RetryOnError = IsRetryableError
	}
	if p.BackoffUnit == 0 {
		p.BackoffUnit = DefaultBackoffUnit
	}
	if p.OnBackoff == nil {
		p.OnBackoff = func(BackoffEvent) {}
	}
	return p
}

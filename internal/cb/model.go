package cb

import (
	"time"

	"github.com/RassulYunussov/erestclient/internal/common"
)

type CircuitBreakerParameters struct {
	MaxRequests         uint32
	ConsecutiveFailures uint32
	Interval            time.Duration
	Timeout             time.Duration
}

func (p *CircuitBreakerParameters) Validate() error {
	if p.ConsecutiveFailures == 0 {
		return &common.ConfigurationError{Component: "circuit breaker", Field: "ConsecutiveFailures", Reason: "must be at least 1"}
	}
	if p.Interval < 0 || p.Timeout < 0 {
		return &common.ConfigurationError{Component: "circuit breaker", Field: "Interval/Timeout", Reason: "must not be negative"}
	}
	return nil
}

// circuitBreakerErrorWrapper carries a 5xx response through the breaker as a failure.
type circuitBreakerErrorWrapper[T any] struct {
	wrapped T
}

func (e *circuitBreakerErrorWrapper[T]) Error() string {
	return "http-5xx response"
}

package cb

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type circuitBreaker[T any, V any] struct {
	*gobreaker.CircuitBreaker[*V]
}

func (cb *circuitBreaker[T, V]) execute(f func(request *T) (*V, error), request *T) (*V, error) {
	res, err := cb.CircuitBreaker.Execute(func() (*V, error) {
		return f(request)
	})
	if err != nil {
		return nil, err
	}
	return res, err
}

func newCircuitBreaker[T any, V any](p *CircuitBreakerParameters, resource string, logger zerolog.Logger) *circuitBreaker[T, V] {
	return &circuitBreaker[T, V]{
		CircuitBreaker: gobreaker.NewCircuitBreaker[*V](gobreaker.Settings{
			Name:        fmt.Sprintf("http client circuit breaker for resource %s", resource),
			MaxRequests: p.MaxRequests,
			Interval:    p.Interval,
			Timeout:     p.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= p.ConsecutiveFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
	}
}

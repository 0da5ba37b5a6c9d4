package cb

import (
	"errors"
	"net/http"
	"sync"

	"github.com/RassulYunussov/erestclient/internal/common"
	"github.com/rs/zerolog"
)

type circuitBreakerBackedHttpClient struct {
	client          common.Session
	parameters      CircuitBreakerParameters
	logger          zerolog.Logger
	circuitBreakers sync.Map
}

// CreateCircuitBreakerHttpClient keeps one breaker per resource; 5xx responses and
// transport errors count as failures, everything else as success.
func CreateCircuitBreakerHttpClient(client common.Session, circuitBreakerParameters *CircuitBreakerParameters, logger zerolog.Logger) (common.Session, error) {
	if err := circuitBreakerParameters.Validate(); err != nil {
		return nil, err
	}
	return &circuitBreakerBackedHttpClient{
		client:     client,
		parameters: *circuitBreakerParameters,
		logger:     logger,
	}, nil
}

func (c *circuitBreakerBackedHttpClient) DoResourceRequest(resource string, r *http.Request) (*http.Response, error) {
	cb := c.getCircuitBreaker(resource)
	resp, err := cb.execute(c.do, r)
	var e *circuitBreakerErrorWrapper[*http.Response]
	if errors.As(err, &e) {
		return e.wrapped, nil
	}
	return resp, err
}

func (c *circuitBreakerBackedHttpClient) Do(r *http.Request) (*http.Response, error) {
	return c.DoResourceRequest(common.GetResource(r), r)
}

func (c *circuitBreakerBackedHttpClient) getCircuitBreaker(resource string) *circuitBreaker[http.Request, http.Response] {
	if cb, ok := c.circuitBreakers.Load(resource); ok {
		return cb.(*circuitBreaker[http.Request, http.Response])
	}
	cb, _ := c.circuitBreakers.LoadOrStore(resource, newCircuitBreaker[http.Request, http.Response](&c.parameters, resource, c.logger))
	return cb.(*circuitBreaker[http.Request, http.Response])
}

func (c *circuitBreakerBackedHttpClient) do(r *http.Request) (*http.Response, error) {
	resp, err := c.client.DoResourceRequest(common.GetResource(r), r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusInternalServerError {
		return resp, nil
	}
	return nil, &circuitBreakerErrorWrapper[*http.Response]{
		wrapped: resp,
	}
}

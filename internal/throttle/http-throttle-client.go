package throttle

import (
	"net/http"

	"github.com/RassulYunussov/erestclient/internal/common"
	"golang.org/x/time/rate"
)

type RateLimitParameters struct {
	RequestsPerSecond float64
	Burst             int
}

func (p *RateLimitParameters) Validate() error {
	if p.RequestsPerSecond <= 0 {
		return &common.ConfigurationError{Component: "rate limit", Field: "RequestsPerSecond", Reason: "must be positive"}
	}
	if p.Burst < 1 {
		return &common.ConfigurationError{Component: "rate limit", Field: "Burst", Reason: "must be at least 1"}
	}
	return nil
}

// throttledHttpClient shares one token bucket across every request of the session.
type throttledHttpClient struct {
	client  common.Session
	limiter *rate.Limiter
}

func CreateThrottledHttpClient(client common.Session, p *RateLimitParameters) (common.Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &throttledHttpClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(p.RequestsPerSecond), p.Burst),
	}, nil
}

func (c *throttledHttpClient) DoResourceRequest(resource string, r *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	return c.client.DoResourceRequest(resource, r)
}

func (c *throttledHttpClient) Do(r *http.Request) (*http.Response, error) {
	return c.DoResourceRequest(common.GetResource(r), r)
}

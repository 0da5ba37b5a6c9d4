package erestclient

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/RassulYunussov/erestclient/internal/cb"
	"github.com/RassulYunussov/erestclient/internal/common"
	"github.com/RassulYunussov/erestclient/internal/dump"
	"github.com/RassulYunussov/erestclient/internal/noop"
	"github.com/RassulYunussov/erestclient/internal/resilient"
	"github.com/RassulYunussov/erestclient/internal/throttle"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second

	DefaultRetryMaxTime     = resilient.DefaultMaxTime
	DefaultRetryMaxTries    = resilient.DefaultMaxTries
	DefaultRetryMaxBackoff  = resilient.DefaultMaxBackoff
	DefaultRetryBackoffUnit = resilient.DefaultBackoffUnit
)

// Session executes requests on behalf of resource nodes. It is shared, safe for
// concurrent use, and may be decorated with retry, circuit breaker and rate limiting.
// Retriable outcomes: 408, 429, 5xx, connection errors, timeouts.
// Non-retriable: caller cancellation, gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests.
type Session = common.Session

// RetryPolicy configures the fault-tolerant execution of a logical call.
type RetryPolicy = resilient.Policy

// BackoffEvent is passed to RetryPolicy.OnBackoff before every wait.
type BackoffEvent = resilient.BackoffEvent

// DefaultRetryPolicy retries 408, 429, 5xx and transport failures with a Fibonacci
// backoff of at most 15s per step, for at most 10 attempts or 120s.
func DefaultRetryPolicy() RetryPolicy {
	return resilient.DefaultPolicy()
}

// RetryStatuses builds a RetryPolicy.RetryOnStatus predicate from explicit codes.
func RetryStatuses(codes ...int) func(int) bool {
	return resilient.RetryStatuses(codes...)
}

// IsRetryableError is the default RetryPolicy.RetryOnError predicate.
func IsRetryableError(err error) bool {
	return resilient.IsRetryableError(err)
}

type sessionCreationParameters struct {
	timeouts                 common.Timeouts
	retryPolicy              *RetryPolicy
	circuitBreakerParameters *cb.CircuitBreakerParameters
	rateLimitParameters      *throttle.RateLimitParameters
	httpClient               *http.Client
	logger                   zerolog.Logger
}

type SessionOption func(*sessionCreationParameters) *sessionCreationParameters

// CreateSession builds a Session. Without options every call is a single attempt.
// Layers from the outside in: retry, circuit breaker, rate limit, physical attempt.
func CreateSession(opts ...SessionOption) (Session, error) {
	p := &sessionCreationParameters{
		timeouts: common.Timeouts{Connect: DefaultConnectTimeout, Read: DefaultReadTimeout},
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		p = o(p)
	}
	if p.timeouts.Connect < 0 || p.timeouts.Read < 0 {
		return nil, &ConfigurationError{Component: "session", Field: "timeouts", Reason: "must not be negative"}
	}

	session := noop.CreateNoOpHttpClient(p.httpClient, p.timeouts)
	var err error
	if p.rateLimitParameters != nil {
		if session, err = throttle.CreateThrottledHttpClient(session, p.rateLimitParameters); err != nil {
			return nil, err
		}
	}
	if p.circuitBreakerParameters != nil {
		if session, err = cb.CreateCircuitBreakerHttpClient(session, p.circuitBreakerParameters, p.logger); err != nil {
			return nil, err
		}
	}
	if p.retryPolicy != nil {
		policy := *p.retryPolicy
		if policy.OnBackoff == nil {
			policy.OnBackoff = logBackoff(p.logger)
		}
		if policy.Unbounded() {
			p.logger.Warn().Msg("retry policy sets neither MaxTime nor MaxTries, calls retry until their context is done")
		}
		if session, err = resilient.CreateResilientHttpClient(session, policy); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// DefaultSession is a session with DefaultRetryPolicy and default timeouts.
func DefaultSession() Session {
	session, err := CreateSession(WithRetry(DefaultRetryPolicy()))
	if err != nil {
		// defaults are constants, this cannot happen
		panic(err)
	}
	return session
}

// Override connect and read timeouts applied to every physical attempt.
func WithTimeouts(connect, read time.Duration) SessionOption {
	return func(p *sessionCreationParameters) *sessionCreationParameters {
		p.timeouts = common.Timeouts{Connect: connect, Read: read}
		return p
	}
}

// Apply retry policy to Session
func WithRetry(policy RetryPolicy) SessionOption {
	return func(p *sessionCreationParameters) *sessionCreationParameters {
		p.retryPolicy = &policy
		return p
	}
}

// Apply circuit breaker policy to Session.
// https://github.com/sony/gobreaker
func WithCircuitBreaker(maxRequests uint32,
	consecutiveFailures uint32,
	interval time.Duration,
	timeout time.Duration) SessionOption {
	return func(p *sessionCreationParameters) *sessionCreationParameters {
		p.circuitBreakerParameters = &cb.CircuitBreakerParameters{
			MaxRequests:         maxRequests,
			ConsecutiveFailures: consecutiveFailures,
			Interval:            interval,
			Timeout:             timeout,
		}
		return p
	}
}

// Apply client side rate limiting to every physical attempt.
func WithRateLimit(requestsPerSecond float64, burst int) SessionOption {
	return func(p *sessionCreationParameters) *sessionCreationParameters {
		p.rateLimitParameters = &throttle.RateLimitParameters{RequestsPerSecond: requestsPerSecond, Burst: burst}
		return p
	}
}

// Use client as the opaque transport. Its own timeouts apply on top of the session ones.
func WithHTTPClient(client *http.Client) SessionOption {
	return func(p *sessionCreationParameters) *sessionCreationParameters {
		p.httpClient = client
		return p
	}
}

func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(p *sessionCreationParameters) *sessionCreationParameters {
		p.logger = logger
		return p
	}
}

func logBackoff(logger zerolog.Logger) func(BackoffEvent) {
	return func(e BackoffEvent) {
		if logger.GetLevel() > zerolog.DebugLevel {
			return
		}
		outcome := e.Outcome
		if e.Response != nil {
			outcome = inlineExchange(e.Request, e.Response)
		}
		logger.Debug().
			Int("attempt", e.Attempt).
			Dur("wait", e.Wait).
			Dur("elapsed", e.Elapsed).
			Msgf("Re-trying <<%s>> waiting for %.1fs before trying the %s time", outcome, e.Wait.Seconds(), humanize.Ordinal(e.Attempt+1))
	}
}

func inlineExchange(req *http.Request, resp *http.Response) string {
	var reqBody []byte
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			reqBody, _ = io.ReadAll(body)
		}
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	return dump.Exchange(
		dump.Request(req.Method, req.URL.Redacted(), req.Header, reqBody),
		dump.Response(resp.Proto, resp.Status, resp.Header, respBody),
		true,
	)
}

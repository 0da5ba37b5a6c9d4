package resilient

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/RassulYunussov/erestclient/internal/common"
)

type resilientHttpClient struct {
	client common.Session
	policy Policy
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
}

// CreateResilientHttpClient wraps client with the retry state machine described by policy.
// Retry bookkeeping lives on the stack of each call, so the result is safe for concurrent use.
func CreateResilientHttpClient(client common.Session, policy Policy) (common.Session, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &resilientHttpClient{
		client: client,
		policy: policy.withDefaults(),
		now:    time.Now,
		sleep:  sleep,
		jitter: rand.Int63n,
	}, nil
}

func (c *resilientHttpClient) DoResourceRequest(resource string, r *http.Request) (*http.Response, error) {
	return c.doWithRetry(resource, r)
}

func (c *resilientHttpClient) Do(r *http.Request) (*http.Response, error) {
	return c.doWithRetry(common.GetResource(r), r)
}

// retryState is the per-call bookkeeping: attempts made, start time and backoff position.
type retryState struct {
	policy  Policy
	start   time.Time
	tries   int
	backoff *fibonacci
}

func newRetryState(policy Policy, start time.Time) *retryState {
	return &retryState{
		policy:  policy,
		start:   start,
		backoff: newFibonacci(policy.BackoffUnit, policy.MaxBackoff),
	}
}

func (s *retryState) exhausted(elapsed time.Duration) bool {
	if s.policy.MaxTries > 0 && s.tries >= s.policy.MaxTries {
		return true
	}
	return s.policy.MaxTime > 0 && elapsed >= s.policy.MaxTime
}

func (s *retryState) nextWait(elapsed time.Duration, jitter func(int64) int64) time.Duration {
	wait := s.backoff.next()
	if s.policy.Jitter && wait > 1 {
		wait += time.Duration(jitter(int64(wait) >> 1))
	}
	if s.policy.MaxTime > 0 {
		if remaining := s.policy.MaxTime - elapsed; wait > remaining {
			wait = remaining
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (c *resilientHttpClient) doWithRetry(resource string, r *http.Request) (*http.Response, error) {
	state := newRetryState(c.policy, c.now())
	for {
		attempt, err := rewind(r, state.tries)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.DoResourceRequest(resource, attempt)
		state.tries++
		if err != nil && r.Context().Err() != nil {
			return nil, err
		}
		if !c.retryable(resp, err) || !replayable(r) {
			return resp, err
		}
		elapsed := c.now().Sub(state.start)
		if state.exhausted(elapsed) {
			if err != nil {
				return nil, &TransportError{
					Method:   r.Method,
					URL:      r.URL.Redacted(),
					Attempts: state.tries,
					Elapsed:  elapsed,
					Err:      err,
				}
			}
			return resp, nil
		}
		wait := state.nextWait(elapsed, c.jitter)
		c.policy.OnBackoff(BackoffEvent{
			Attempt:  state.tries,
			Wait:     wait,
			Elapsed:  elapsed,
			Outcome:  describe(r, resp, err),
			Request:  r,
			Response: resp,
			Err:      err,
		})
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if err := c.sleep(r.Context(), wait); err != nil {
			return nil, err
		}
	}
}

func (c *resilientHttpClient) retryable(resp *http.Response, err error) bool {
	if err != nil {
		return c.policy.RetryOnError(err)
	}
	return c.policy.RetryOnStatus(resp.StatusCode)
}

// rewind returns the request to send for the next attempt, with a fresh body after the first one.
func rewind(r *http.Request, tries int) (*http.Request, error) {
	if tries == 0 || r.Body == nil || r.Body == http.NoBody {
		return r, nil
	}
	body, err := r.GetBody()
	if err != nil {
		return nil, err
	}
	clone := r.Clone(r.Context())
	clone.Body = body
	return clone, nil
}

func replayable(r *http.Request) bool {
	return r.Body == nil || r.Body == http.NoBody || r.GetBody != nil
}

func describe(r *http.Request, resp *http.Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%s %s %s %s", r.Method, r.URL.Redacted(), resp.Proto, resp.Status)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

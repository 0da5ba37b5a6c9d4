package resilient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RassulYunussov/erestclient/internal/common"
	"github.com/RassulYunussov/erestclient/internal/noop"
	"gotest.tools/v3/assert"
)

type outcome struct {
	status int
	err    error
}

// scriptedSession replays outcomes in order and repeats the last one forever.
type scriptedSession struct {
	outcomes []outcome
	calls    int
	bodies   []string
}

func (s *scriptedSession) DoResourceRequest(resource string, r *http.Request) (*http.Response, error) {
	return s.Do(r)
}

func (s *scriptedSession) Do(r *http.Request) (*http.Response, error) {
	if r.Body != nil {
		b, _ := io.ReadAll(r.Body)
		s.bodies = append(s.bodies, string(b))
	}
	o := s.outcomes[min(s.calls, len(s.outcomes)-1)]
	s.calls++
	if o.err != nil {
		return nil, o.err
	}
	return &http.Response{
		StatusCode: o.status,
		Status:     http.StatusText(o.status),
		Proto:      "HTTP/1.1",
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    r,
	}, nil
}

type fakeClock struct {
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func createWithClock(t *testing.T, s common.Session, p Policy) (*resilientHttpClient, *fakeClock) {
	t.Helper()
	session, err := CreateResilientHttpClient(s, p)
	assert.NilError(t, err)
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := session.(*resilientHttpClient)
	c.now = clock.Now
	c.sleep = clock.Sleep
	return c, clock
}

func getRequest(t *testing.T) *http.Request {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, "http://localhost/api/items", nil)
	assert.NilError(t, err)
	return r
}

var connectionRefused = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

func TestFibonacciBackoff(t *testing.T) {
	f := newFibonacci(time.Second, 0)
	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, f.next())
	}
	assert.DeepEqual(t, []time.Duration{1 * time.Second, 1 * time.Second, 2 * time.Second, 3 * time.Second, 5 * time.Second, 8 * time.Second, 13 * time.Second}, got)
}

func TestFibonacciBackoffIsCapped(t *testing.T) {
	f := newFibonacci(time.Millisecond, 3*time.Millisecond)
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, f.next())
	}
	ms := time.Millisecond
	assert.DeepEqual(t, []time.Duration{1 * ms, 1 * ms, 2 * ms, 3 * ms, 3 * ms, 3 * ms}, got)
}

func TestFibonacciBackoffDoesNotOverflow(t *testing.T) {
	f := newFibonacci(time.Hour, 0)
	var last time.Duration
	for i := 0; i < 200; i++ {
		last = f.next()
		assert.Assert(t, last > 0)
	}
	assert.Equal(t, time.Duration(1<<63-1), last)
}

func TestSuccessOnFirstAttempt(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: http.StatusOK}}}
	c, clock := createWithClock(t, s, DefaultPolicy())
	resp, err := c.Do(getRequest(t))
	assert.NilError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 0, len(clock.waits))
}

func TestRetryThenSuccess(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 503}, {status: 429}, {status: 200}}}
	var events []BackoffEvent
	p := DefaultPolicy()
	p.OnBackoff = func(e BackoffEvent) { events = append(events, e) }
	c, clock := createWithClock(t, s, p)

	resp, err := c.Do(getRequest(t))
	assert.NilError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, s.calls)
	assert.DeepEqual(t, []time.Duration{time.Second, time.Second}, clock.waits)
	assert.Equal(t, 2, len(events))
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, 2, events[1].Attempt)
	assert.Equal(t, "GET http://localhost/api/items HTTP/1.1 Service Unavailable", events[0].Outcome)
}

func TestMaxTriesReturnsLastResponse(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 500}}}
	p := DefaultPolicy()
	p.MaxTries = 3
	p.MaxTime = 2 * time.Second
	c, _ := createWithClock(t, s, p)
	resp, err := c.Do(getRequest(t))
	assert.NilError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, 3, s.calls)
}

func TestMaxTimeStopsRetrying(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 502}}}
	p := DefaultPolicy()
	p.MaxTries = 0
	p.MaxTime = 2 * time.Second
	c, clock := createWithClock(t, s, p)
	resp, err := c.Do(getRequest(t))
	assert.NilError(t, err)
	assert.Equal(t, 502, resp.StatusCode)
	assert.Equal(t, 3, s.calls)
	assert.DeepEqual(t, []time.Duration{time.Second, time.Second}, clock.waits)
}

func TestWaitIsTruncatedToRemainingTime(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 500}}}
	p := DefaultPolicy()
	p.MaxTries = 0
	p.MaxTime = 2500 * time.Millisecond
	c, clock := createWithClock(t, s, p)
	_, err := c.Do(getRequest(t))
	assert.NilError(t, err)
	assert.Equal(t, 4, s.calls)
	assert.DeepEqual(t, []time.Duration{time.Second, time.Second, 500 * time.Millisecond}, clock.waits)
}

func TestBackoffStateIsPerCall(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 500}}}
	p := DefaultPolicy()
	p.MaxTries = 2
	c, clock := createWithClock(t, s, p)
	_, _ = c.Do(getRequest(t))
	_, _ = c.Do(getRequest(t))
	assert.DeepEqual(t, []time.Duration{time.Second, time.Second}, clock.waits)
	assert.Equal(t, 4, s.calls)
}

func TestJitterIsAdded(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 500}}}
	p := DefaultPolicy()
	p.MaxTries = 2
	p.Jitter = true
	c, clock := createWithClock(t, s, p)
	c.jitter = func(n int64) int64 { return n - 1 }
	_, _ = c.Do(getRequest(t))
	assert.DeepEqual(t, []time.Duration{time.Second + 500*time.Millisecond - 1}, clock.waits)
}

func TestRetryableErrorIsExhausted(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{err: connectionRefused}}}
	p := DefaultPolicy()
	p.MaxTries = 4
	c, _ := createWithClock(t, s, p)
	_, err := c.Do(getRequest(t))
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	var opErr *net.OpError
	assert.Assert(t, errors.As(err, &opErr))
	var transportErr *TransportError
	assert.Assert(t, errors.As(err, &transportErr))
	assert.Equal(t, 4, transportErr.Attempts)
	assert.Equal(t, 4, s.calls)
}

func TestRetryableErrorThenSuccess(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{err: io.ErrUnexpectedEOF}, {status: 201}}}
	c, _ := createWithClock(t, s, DefaultPolicy())
	resp, err := c.Do(getRequest(t))
	assert.NilError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, 2, s.calls)
}

func TestNonRetryableErrorIsReturnedImmediately(t *testing.T) {
	boom := errors.New("boom")
	s := &scriptedSession{outcomes: []outcome{{err: boom}}}
	c, clock := createWithClock(t, s, DefaultPolicy())
	_, err := c.Do(getRequest(t))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 0, len(clock.waits))
}

func TestNonRetryableStatusIsReturned(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 404}}}
	c, _ := createWithClock(t, s, DefaultPolicy())
	resp, err := c.Do(getRequest(t))
	assert.NilError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, 1, s.calls)
}

func TestCustomStatusPredicate(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 409}, {status: 500}}}
	p := DefaultPolicy()
	p.RetryOnStatus = RetryStatuses(409)
	c, _ := createWithClock(t, s, p)
	resp, err := c.Do(getRequest(t))
	assert.NilError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, 2, s.calls)
}

func TestCallerCancellationIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scriptedSession{outcomes: []outcome{{err: context.Canceled}}}
	c, _ := createWithClock(t, s, DefaultPolicy())
	r, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost/", nil)
	_, err := c.Do(r)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.calls)
}

func TestBodyIsReplayedOnEveryAttempt(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 500}, {err: connectionRefused}, {status: 200}}}
	c, _ := createWithClock(t, s, DefaultPolicy())
	r, err := http.NewRequest(http.MethodPost, "http://localhost/api/items", bytes.NewReader([]byte(`{"a":1}`)))
	assert.NilError(t, err)
	resp, err := c.Do(r)
	assert.NilError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.DeepEqual(t, []string{`{"a":1}`, `{"a":1}`, `{"a":1}`}, s.bodies)
}

func TestUnreplayableBodyIsNotRetried(t *testing.T) {
	s := &scriptedSession{outcomes: []outcome{{status: 500}}}
	c, _ := createWithClock(t, s, DefaultPolicy())
	r, err := http.NewRequest(http.MethodPost, "http://localhost/", io.NopCloser(strings.NewReader("x")))
	assert.NilError(t, err)
	resp, err := c.Do(r)
	assert.NilError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, 1, s.calls)
}

func TestValidateRejectsNegativeValues(t *testing.T) {
	p := DefaultPolicy()
	p.MaxTries = -1
	_, err := CreateResilientHttpClient(&scriptedSession{}, p)
	var cfgErr *common.ConfigurationError
	assert.Assert(t, errors.As(err, &cfgErr))
	assert.Equal(t, "MaxTries", cfgErr.Field)
}

func TestIsRetryableError(t *testing.T) {
	assert.Assert(t, IsRetryableError(connectionRefused))
	assert.Assert(t, IsRetryableError(&TransportError{Err: errors.New("x")}))
	assert.Assert(t, IsRetryableError(io.ErrUnexpectedEOF))
	assert.Assert(t, !IsRetryableError(errors.New("unsupported protocol scheme")))
	assert.Assert(t, !IsRetryableError(nil))
}

func TestDefaultRetryStatus(t *testing.T) {
	for _, status := range []int{408, 429, 500, 503, 599} {
		assert.Assert(t, DefaultRetryStatus(status), status)
	}
	for _, status := range []int{200, 301, 400, 404, 499, 600} {
		assert.Assert(t, !DefaultRetryStatus(status), status)
	}
}

func TestRetriesAgainstServer(t *testing.T) {
	var calls int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer s.Close()

	p := DefaultPolicy()
	p.MaxTries = 3
	p.MaxTime = 2 * time.Second
	p.BackoffUnit = 10 * time.Millisecond
	client, err := CreateResilientHttpClient(noop.CreateNoOpHttpClient(nil, common.Timeouts{Connect: time.Second, Read: time.Second}), p)
	assert.NilError(t, err)

	request, _ := http.NewRequest(http.MethodGet, s.URL, nil)
	start := time.Now()
	resp, err := client.Do(request)
	assert.NilError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "expected 3 calls")
	assert.Assert(t, time.Since(start) < 2*time.Second)
}

func TestReadTimeoutIsRetried(t *testing.T) {
	var calls int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer s.Close()

	p := DefaultPolicy()
	p.BackoffUnit = time.Millisecond
	client, err := CreateResilientHttpClient(noop.CreateNoOpHttpClient(nil, common.Timeouts{Connect: 20 * time.Millisecond, Read: 30 * time.Millisecond}), p)
	assert.NilError(t, err)

	request, _ := http.NewRequest(http.MethodGet, s.URL, nil)
	resp, err := client.Do(request)
	assert.NilError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "expected 2 calls")
}

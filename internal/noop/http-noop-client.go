package noop

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/RassulYunussov/erestclient/internal/common"
)

const keepAlive = 30 * time.Second

// noOpHttpClient performs exactly one physical attempt and buffers the whole body,
// so the response stays readable after the attempt deadline is released.
type noOpHttpClient struct {
	client   *http.Client
	timeouts common.Timeouts
}

// CreateNoOpHttpClient builds the innermost session. When client is nil a dedicated
// client is created whose dialer honours per-request connect timeouts.
func CreateNoOpHttpClient(client *http.Client, timeouts common.Timeouts) common.Session {
	c := &noOpHttpClient{client: client, timeouts: timeouts}
	if c.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = c.dialContext
		c.client = &http.Client{Transport: transport}
	}
	return c
}

func (c *noOpHttpClient) DoResourceRequest(resource string, r *http.Request) (*http.Response, error) {
	return c.do(r)
}

func (c *noOpHttpClient) Do(r *http.Request) (*http.Response, error) {
	return c.do(r)
}

func (c *noOpHttpClient) do(r *http.Request) (*http.Response, error) {
	t := common.TimeoutsFrom(r.Context(), c.timeouts)
	ctx := r.Context()
	if t.Connect > 0 || t.Read > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Connect+t.Read)
		defer cancel()
	}
	resp, err := c.client.Do(r.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	// keep the caller's context on the response, not the attempt one
	resp.Request = r
	return resp, nil
}

func (c *noOpHttpClient) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d := net.Dialer{
		Timeout:   common.TimeoutsFrom(ctx, c.timeouts).Connect,
		KeepAlive: keepAlive,
	}
	return d.DialContext(ctx, network, address)
}

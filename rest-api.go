package erestclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RassulYunussov/erestclient/internal/common"
	"github.com/RassulYunussov/erestclient/internal/urlmodel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RequestIDHeader = "X-Request-Id"
	reservedPrefix  = "_"
)

// RestApi is one node of a RESTful resource tree: an immutable URL bound to a shared Session.
// Traversal returns new nodes; a node that failed to derive keeps the error and
// every verb on it returns that error without touching the network.
type RestApi struct {
	ep            *urlmodel.URL
	session       Session
	logger        zerolog.Logger
	debug         int
	groupSlash    bool
	discreteSlash bool
	headers       http.Header
	err           error
}

type restApiCreationParameters struct {
	session       Session
	sessionSet    bool
	logger        zerolog.Logger
	debug         int
	groupSlash    bool
	discreteSlash bool
	headers       http.Header
}

type RestApiOption func(*restApiCreationParameters) *restApiCreationParameters

// New validates endpoint and returns the root node. No network call is made.
func New(endpoint string, opts ...RestApiOption) (*RestApi, error) {
	p := &restApiCreationParameters{
		logger:  zerolog.Nop(),
		headers: http.Header{},
	}
	for _, o := range opts {
		p = o(p)
	}
	if p.sessionSet && p.session == nil {
		return nil, &ConfigurationError{Component: "rest api", Field: "session", Reason: "must not be nil"}
	}
	if p.debug < 0 {
		return nil, &ConfigurationError{Component: "rest api", Field: "debug", Reason: "must not be negative"}
	}
	ep, err := urlmodel.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if p.session == nil {
		p.session = DefaultSession()
	}
	return &RestApi{
		ep:            ep,
		session:       p.session,
		logger:        p.logger,
		debug:         p.debug,
		groupSlash:    p.groupSlash,
		discreteSlash: p.discreteSlash,
		headers:       p.headers,
	}, nil
}

// Share session between nodes and clients. Defaults to DefaultSession.
func WithSession(session Session) RestApiOption {
	return func(p *restApiCreationParameters) *restApiCreationParameters {
		p.session = session
		p.sessionSet = true
		return p
	}
}

// Debug level above zero renders full request/response banners in error messages.
func WithDebug(level int) RestApiOption {
	return func(p *restApiCreationParameters) *restApiCreationParameters {
		p.debug = level
		return p
	}
}

// Append "/" after collection segments.
func WithGroupSlash(enabled bool) RestApiOption {
	return func(p *restApiCreationParameters) *restApiCreationParameters {
		p.groupSlash = enabled
		return p
	}
}

// Append "/" after item segments.
func WithDiscreteSlash(enabled bool) RestApiOption {
	return func(p *restApiCreationParameters) *restApiCreationParameters {
		p.discreteSlash = enabled
		return p
	}
}

func WithLogger(logger zerolog.Logger) RestApiOption {
	return func(p *restApiCreationParameters) *restApiCreationParameters {
		p.logger = logger
		return p
	}
}

// Add a header sent with every request of the tree, unless a call overrides it.
func WithDefaultHeader(key, value string) RestApiOption {
	return func(p *restApiCreationParameters) *restApiCreationParameters {
		p.headers.Set(key, value)
		return p
	}
}

// Child derives a node for segment. Items follow the discrete slash policy,
// collections the group slash policy.
func (a *RestApi) Child(segment any, isItem bool) *RestApi {
	if a.err != nil {
		return a
	}
	name := fmt.Sprint(segment)
	if strings.HasPrefix(name, reservedPrefix) {
		return a.failed(&ReservedNameError{Segment: name, URL: a.ep.Redacted()})
	}
	trailingSlash := a.groupSlash
	if isItem {
		trailingSlash = a.discreteSlash
	}
	ep, err := a.ep.AppendSegment(name, trailingSlash)
	if err != nil {
		return a.failed(err)
	}
	return a.derive(ep)
}

// Resource derives a collection node, api.Resource("items") is .../items.
func (a *RestApi) Resource(name any) *RestApi {
	return a.Child(name, false)
}

// Item derives an item node, api.Resource("items").Item(5) is .../items/5.
func (a *RestApi) Item(id any) *RestApi {
	return a.Child(id, true)
}

// Root derives the node for "/" of the same endpoint, session and configuration.
func (a *RestApi) Root() *RestApi {
	if a.err != nil {
		return a
	}
	return a.derive(a.ep.Root())
}

// Err reports why the node could not be derived.
func (a *RestApi) Err() error {
	return a.err
}

func (a *RestApi) String() string {
	return a.ep.String()
}

func (a *RestApi) derive(ep *urlmodel.URL) *RestApi {
	c := *a
	c.ep = ep
	return &c
}

func (a *RestApi) failed(err error) *RestApi {
	c := *a
	c.err = err
	return &c
}

func (a *RestApi) Get(ctx context.Context, opts *RequestOptions) (*Result, error) {
	return a.Do(ctx, http.MethodGet, opts)
}

func (a *RestApi) Post(ctx context.Context, opts *RequestOptions) (*Result, error) {
	return a.Do(ctx, http.MethodPost, opts)
}

func (a *RestApi) Put(ctx context.Context, opts *RequestOptions) (*Result, error) {
	return a.Do(ctx, http.MethodPut, opts)
}

func (a *RestApi) Patch(ctx context.Context, opts *RequestOptions) (*Result, error) {
	return a.Do(ctx, http.MethodPatch, opts)
}

func (a *RestApi) Delete(ctx context.Context, opts *RequestOptions) (*Result, error) {
	return a.Do(ctx, http.MethodDelete, opts)
}

func (a *RestApi) Head(ctx context.Context, opts *RequestOptions) (*Result, error) {
	return a.Do(ctx, http.MethodHead, opts)
}

// Do issues one logical request through the session and classifies the response.
// On a 4xx/5xx status both the Result and an *HTTPError are returned.
func (a *RestApi) Do(ctx context.Context, method string, opts *RequestOptions) (*Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	if opts == nil {
		opts = &RequestOptions{}
	}
	reqBody, err := opts.encodeBody()
	if err != nil {
		return nil, err
	}
	if opts.ConnectTimeout > 0 || opts.ReadTimeout > 0 {
		ctx = common.WithTimeouts(ctx, common.Timeouts{Connect: opts.ConnectTimeout, Read: opts.ReadTimeout})
	}
	target := a.ep.WithQuery(opts.Query)
	var body io.Reader
	if reqBody != nil {
		body = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = a.requestHeaders(opts.Headers)

	requestID := req.Header.Get(RequestIDHeader)
	a.logger.Debug().
		Str("direction", "outbound").
		Str("method", method).
		Str("url", target.Redacted()).
		Str("request_id", requestID).
		Msg("REST client request")

	start := time.Now()
	resp, err := a.session.Do(req)
	if err != nil {
		a.logger.Debug().
			Err(err).
			Str("method", method).
			Str("url", target.Redacted()).
			Str("request_id", requestID).
			Dur("elapsed", time.Since(start)).
			Msg("REST client request failed")
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Response: &Response{
			Method:     method,
			URL:        target.Redacted(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Proto:      resp.Proto,
			Header:     resp.Header,
			Body:       respBody,
			Elapsed:    time.Since(start),
		},
	}
	a.logger.Debug().
		Str("direction", "inbound").
		Str("method", method).
		Str("url", target.Redacted()).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", result.Response.Elapsed).
		Msg("REST client response")

	data, decodeErr := decodeData(resp.Header, respBody)
	result.Data = data
	if err := classify(a.debug, req, reqBody, result); err != nil {
		return result, err
	}
	if decodeErr != nil {
		return result, fmt.Errorf("decode %s %s response: %w", method, target.Redacted(), decodeErr)
	}
	return result, nil
}

// requestHeaders layers JSON defaults, node headers and per-call headers, later ones winning.
func (a *RestApi) requestHeaders(overrides map[string]string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", ContentTypeJSON)
	h.Set("Accept", ContentTypeJSON)
	h.Set(RequestIDHeader, uuid.NewString())
	for k, v := range a.headers {
		h[k] = append([]string(nil), v...)
	}
	for k, v := range overrides {
		h.Set(k, v)
	}
	return h
}

package erestclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/RassulYunussov/erestclient/internal/common"
	"github.com/RassulYunussov/erestclient/internal/dump"
	"github.com/RassulYunussov/erestclient/internal/resilient"
	"github.com/RassulYunussov/erestclient/internal/urlmodel"
)

var (
	// ErrClient is matched by every 4xx HTTPError, including ErrNotFound.
	ErrClient   = errors.New("http client error")
	ErrNotFound = fmt.Errorf("%w: not found", ErrClient)
	ErrServer   = errors.New("http server error")

	// ErrRetriesExhausted is matched by a TransportError.
	ErrRetriesExhausted = resilient.ErrRetriesExhausted
)

type (
	// InvalidURLError lists every malformed component of an endpoint or derived URL.
	InvalidURLError = urlmodel.InvalidURLError
	// ConfigurationError reports an invalid session, policy or client setting.
	ConfigurationError = common.ConfigurationError
	// TransportError is a retryable transport failure that outlived the retry policy.
	TransportError = resilient.TransportError
)

// ReservedNameError is returned for resource segments starting with an underscore.
type ReservedNameError struct {
	Segment string
	URL     string
}

func (e *ReservedNameError) Error() string {
	return fmt.Sprintf("resource %q under %s: resources starting with `%s` (underscore) are not supported", e.Segment, e.URL, reservedPrefix)
}

// HTTPError is raised for 4xx and 5xx responses. It unwraps to ErrNotFound, ErrClient or ErrServer.
type HTTPError struct {
	Kind       error
	Method     string
	URL        string
	StatusCode int
	Content    []byte
	Data       any
	Response   *Response
	message    string
}

func (e *HTTPError) Error() string {
	return e.message
}

func (e *HTTPError) Unwrap() error {
	return e.Kind
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsClientError(err error) bool {
	return errors.Is(err, ErrClient)
}

func IsServerError(err error) bool {
	return errors.Is(err, ErrServer)
}

// classify turns an error status into an HTTPError; other statuses yield nil.
// The exchange dump is a banner when debug > 0 and a single line otherwise.
func classify(debug int, req *http.Request, reqBody []byte, result *Result) error {
	resp := result.Response
	var kind error
	title := "HTTP Client"
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		kind = ErrClient
	case resp.StatusCode >= 500 && resp.StatusCode <= 599:
		kind = ErrServer
		title = "HTTP Server"
	default:
		return nil
	}
	exchange := dump.Exchange(
		dump.Request(req.Method, resp.URL, req.Header, reqBody),
		dump.Response(resp.Proto, resp.Status, resp.Header, resp.Body),
		debug == 0,
	)
	return &HTTPError{
		Kind:       kind,
		Method:     req.Method,
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Content:    resp.Body,
		Data:       result.Data,
		Response:   resp,
		message:    fmt.Sprintf("%s Error[%d] %s %s", title, resp.StatusCode, resp.URL, exchange),
	}
}

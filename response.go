package erestclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const ContentTypeJSON = "application/json"

// RequestOptions customises one logical call. All fields are optional.
type RequestOptions struct {
	// Body of []byte, string or io.Reader is sent as-is; any other value is JSON encoded.
	Body any
	// Headers override the node defaults.
	Headers map[string]string
	// Query is appended after the node's own query.
	Query url.Values
	// ConnectTimeout and ReadTimeout override the session defaults for every attempt.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func (o *RequestOptions) encodeBody() ([]byte, error) {
	switch b := o.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case io.Reader:
		return io.ReadAll(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return encoded, nil
	}
}

// Response is the raw outcome of the last physical attempt.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Proto      string
	Header     http.Header
	Body       []byte
	// Elapsed covers the whole logical call, retries included.
	Elapsed time.Duration
}

// Result bundles decoded data with the raw response.
type Result struct {
	// Data is the decoded JSON body, or nil when the response is not JSON.
	// Numbers are json.Number so large integers keep their precision.
	Data     any
	Response *Response
}

// Decode unmarshals the JSON body into v.
func (r *Result) Decode(v any) error {
	return json.Unmarshal(r.Response.Body, v)
}

func isJSON(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), ContentTypeJSON)
}

func decodeData(h http.Header, body []byte) (any, error) {
	if !isJSON(h) || len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var data any
	if err := decoder.Decode(&data); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, errors.New("invalid character after top-level value")
	}
	return data, nil
}

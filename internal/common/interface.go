package common

import (
	"context"
	"net/http"
	"time"
)

// Common interface for all session decorators
type Session interface {
	// resource is a semantic name used to separate per-resource state (circuit breakers)
	DoResourceRequest(resource string, r *http.Request) (*http.Response, error)
	// classic HttpClient interface support, gets resource from path + method
	Do(r *http.Request) (*http.Response, error)
}

// Timeouts bound a single physical attempt.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
}

type timeoutsKey struct{}

// WithTimeouts attaches per-call timeout overrides to ctx. Zero fields keep the session defaults.
func WithTimeouts(ctx context.Context, t Timeouts) context.Context {
	return context.WithValue(ctx, timeoutsKey{}, t)
}

// TimeoutsFrom merges the overrides carried by ctx on top of defaults.
func TimeoutsFrom(ctx context.Context, defaults Timeouts) Timeouts {
	t, ok := ctx.Value(timeoutsKey{}).(Timeouts)
	if !ok {
		return defaults
	}
	if t.Connect <= 0 {
		t.Connect = defaults.Connect
	}
	if t.Read <= 0 {
		t.Read = defaults.Read
	}
	return t
}

func GetResource(r *http.Request) string {
	return r.Method + "_" + r.URL.Path
}

// Package config loads client settings from defaults, an optional YAML file,
// ERESTCLIENT_ environment variables and explicit overrides, in that order.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/RassulYunussov/erestclient"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const EnvPrefix = "ERESTCLIENT_"

// listKeys take comma separated values from the environment.
var listKeys = map[string]struct{}{
	"retry.statuses": {},
}

type Config struct {
	Endpoint       string               `koanf:"endpoint"`
	Debug          int                  `koanf:"debug"`
	GroupSlash     bool                 `koanf:"groupslash"`
	DiscreteSlash  bool                 `koanf:"discreteslash"`
	Timeout        TimeoutConfig        `koanf:"timeout"`
	Retry          RetryConfig          `koanf:"retry"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuitbreaker"`
	RateLimit      RateLimitConfig      `koanf:"ratelimit"`
	Log            LogConfig            `koanf:"log"`
}

type TimeoutConfig struct {
	Connect time.Duration `koanf:"connect"`
	Read    time.Duration `koanf:"read"`
}

type RetryConfig struct {
	Enabled    bool          `koanf:"enabled"`
	MaxTries   int           `koanf:"maxtries"`
	MaxTime    time.Duration `koanf:"maxtime"`
	MaxBackoff time.Duration `koanf:"maxbackoff"`
	Unit       time.Duration `koanf:"unit"`
	Jitter     bool          `koanf:"jitter"`
	// Statuses replaces the default retryable status set when not empty.
	Statuses []int `koanf:"statuses"`
}

type CircuitBreakerConfig struct {
	Enabled             bool          `koanf:"enabled"`
	MaxRequests         uint32        `koanf:"maxrequests"`
	ConsecutiveFailures uint32        `koanf:"consecutivefailures"`
	Interval            time.Duration `koanf:"interval"`
	Timeout             time.Duration `koanf:"timeout"`
}

// RateLimitConfig is disabled while RPS is zero.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

type loadParameters struct {
	overrides map[string]any
}

type Option func(*loadParameters) *loadParameters

// Apply values on top of every other source, keyed like the YAML file ("retry.maxtries").
func WithOverrides(overrides map[string]any) Option {
	return func(p *loadParameters) *loadParameters {
		for k, v := range overrides {
			p.overrides[k] = v
		}
		return p
	}
}

// Load reads the configuration. An empty path skips the YAML file; a missing one is an error.
func Load(path string, opts ...Option) (*Config, error) {
	p := &loadParameters{overrides: map[string]any{}}
	for _, o := range opts {
		p = o(p)
	}
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			// ERESTCLIENT_RETRY_MAXTRIES -> retry.maxtries
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_", ".")
			if _, ok := listKeys[key]; ok {
				items := strings.Split(value, ",")
				for i := range items {
					items[i] = strings.TrimSpace(items[i])
				}
				return key, items
			}
			return key, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if len(p.overrides) > 0 {
		if err := k.Load(confmap.Provider(p.overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"debug":         0,
		"groupslash":    false,
		"discreteslash": false,

		"timeout.connect": erestclient.DefaultConnectTimeout.String(),
		"timeout.read":    erestclient.DefaultReadTimeout.String(),

		"retry.enabled":    true,
		"retry.maxtries":   erestclient.DefaultRetryMaxTries,
		"retry.maxtime":    erestclient.DefaultRetryMaxTime.String(),
		"retry.maxbackoff": erestclient.DefaultRetryMaxBackoff.String(),
		"retry.unit":       erestclient.DefaultRetryBackoffUnit.String(),
		"retry.jitter":     false,

		"circuitbreaker.enabled":             false,
		"circuitbreaker.maxrequests":         1,
		"circuitbreaker.consecutivefailures": 5,
		"circuitbreaker.interval":            "0s",
		"circuitbreaker.timeout":             "60s",

		"ratelimit.rps":   0,
		"ratelimit.burst": 1,

		"log.level":  "info",
		"log.pretty": false,
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Debug < 0:
		return invalid("debug", "must not be negative")
	case c.Timeout.Connect < 0:
		return invalid("timeout.connect", "must not be negative")
	case c.Timeout.Read < 0:
		return invalid("timeout.read", "must not be negative")
	case c.Retry.MaxTries < 0:
		return invalid("retry.maxtries", "must not be negative")
	case c.Retry.MaxTime < 0:
		return invalid("retry.maxtime", "must not be negative")
	case c.Retry.MaxBackoff < 0:
		return invalid("retry.maxbackoff", "must not be negative")
	case c.Retry.Unit < 0:
		return invalid("retry.unit", "must not be negative")
	case c.CircuitBreaker.Enabled && c.CircuitBreaker.ConsecutiveFailures == 0:
		return invalid("circuitbreaker.consecutivefailures", "must be at least 1")
	case c.RateLimit.RPS < 0:
		return invalid("ratelimit.rps", "must not be negative")
	case c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1:
		return invalid("ratelimit.burst", "must be at least 1")
	}
	for _, s := range c.Retry.Statuses {
		if s < 100 || s > 599 {
			return invalid("retry.statuses", fmt.Sprintf("contains %d, not an HTTP status", s))
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", err.Error())
	}
	return nil
}

func invalid(field, reason string) error {
	return &erestclient.ConfigurationError{Component: "config", Field: field, Reason: reason}
}

func (c *Config) RetryPolicy() erestclient.RetryPolicy {
	policy := erestclient.DefaultRetryPolicy()
	policy.MaxTries = c.Retry.MaxTries
	policy.MaxTime = c.Retry.MaxTime
	policy.MaxBackoff = c.Retry.MaxBackoff
	policy.BackoffUnit = c.Retry.Unit
	policy.Jitter = c.Retry.Jitter
	if len(c.Retry.Statuses) > 0 {
		policy.RetryOnStatus = erestclient.RetryStatuses(c.Retry.Statuses...)
	}
	return policy
}

// Session builds a session with every feature the configuration enables.
func (c *Config) Session(logger zerolog.Logger) (erestclient.Session, error) {
	opts := []erestclient.SessionOption{
		erestclient.WithTimeouts(c.Timeout.Connect, c.Timeout.Read),
		erestclient.WithSessionLogger(logger),
	}
	if c.Retry.Enabled {
		opts = append(opts, erestclient.WithRetry(c.RetryPolicy()))
	}
	if c.CircuitBreaker.Enabled {
		opts = append(opts, erestclient.WithCircuitBreaker(
			c.CircuitBreaker.MaxRequests,
			c.CircuitBreaker.ConsecutiveFailures,
			c.CircuitBreaker.Interval,
			c.CircuitBreaker.Timeout))
	}
	if c.RateLimit.RPS > 0 {
		opts = append(opts, erestclient.WithRateLimit(c.RateLimit.RPS, c.RateLimit.Burst))
	}
	return erestclient.CreateSession(opts...)
}

// Client builds the root node of Endpoint over a new session.
func (c *Config) Client(logger zerolog.Logger) (*erestclient.RestApi, error) {
	session, err := c.Session(logger)
	if err != nil {
		return nil, err
	}
	return erestclient.New(c.Endpoint,
		erestclient.WithSession(session),
		erestclient.WithDebug(c.Debug),
		erestclient.WithGroupSlash(c.GroupSlash),
		erestclient.WithDiscreteSlash(c.DiscreteSlash),
		erestclient.WithLogger(logger))
}

// Logger writes JSON lines to w, or human readable lines when Log.Pretty is set.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	if c.Log.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

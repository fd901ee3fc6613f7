package icomet

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout          = 5 * time.Second
	DefaultConcurrencyLimit = 128
	DefaultSignExpires      = 60
)

// Config is read once by New and never mutated afterwards.
type Config struct {
	// URI is the server base URL, e.g. "http://127.0.0.1:8000". Required.
	URI string
	// Timeout bounds each single-shot request (default 5s).
	Timeout time.Duration
	// ConcurrencyLimit caps in-flight pushes during a fan-out broadcast
	// (default 128 when zero, negative is rejected).
	ConcurrencyLimit int
	// RatePerSec paces fan-out pushes; 0 disables pacing.
	RatePerSec int
	// OnPushFailure, when set, observes fan-out pushes that failed.
	OnPushFailure func(channel string, err error)
	// HTTPClient overrides the transport. Must be safe for concurrent use.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	c.URI = strings.TrimSpace(c.URI)
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ConcurrencyLimit == 0 {
		c.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	return c
}

func (c Config) validate() error {
	if c.URI == "" {
		return fmt.Errorf("%w: uri is required", ErrConfiguration)
	}
	if c.ConcurrencyLimit <= 0 {
		return fmt.Errorf("%w: concurrency limit must be > 0, got %d", ErrConfiguration, c.ConcurrencyLimit)
	}
	if c.RatePerSec < 0 {
		return fmt.Errorf("%w: rate_per_sec must be >= 0", ErrConfiguration)
	}
	return nil
}

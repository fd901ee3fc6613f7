package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string found at path (used only in
// error messages). Empty means 0; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// TimeoutOrDefault resolves server.timeout.
func (s ServerConfig) TimeoutOrDefault(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("server.timeout", s.Timeout, def)
	if err != nil {
		return def
	}
	return d
}

// ReconnectBounds resolves the subscribe reconnect window (defaults 1s..30s).
func (s SubscribeConfig) ReconnectBounds() (minDelay, maxDelay time.Duration) {
	minDelay, err := ParseDurationOrDefault("subscribe.reconnect_min", s.ReconnectMin, time.Second)
	if err != nil {
		minDelay = time.Second
	}
	maxDelay, err = ParseDurationOrDefault("subscribe.reconnect_max", s.ReconnectMax, 30*time.Second)
	if err != nil {
		maxDelay = 30 * time.Second
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return minDelay, maxDelay
}

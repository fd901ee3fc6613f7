package icomet

import (
	"errors"

	"icomet/internal/dispatch"
	"icomet/internal/httpx"
	"icomet/internal/psub"
)

var (
	// ErrConfiguration is returned by New for a missing URI or a non-positive
	// concurrency limit.
	ErrConfiguration = errors.New("icomet: invalid configuration")
	// ErrDispatcherClosed is returned by Broadcast after Shutdown.
	ErrDispatcherClosed = dispatch.ErrClosed
	// ErrConnection means the subscription stream could not be opened.
	ErrConnection = psub.ErrConnection
	// ErrStream means the subscription stream broke mid-read.
	ErrStream = psub.ErrStream
)

// StatusError is returned by single-shot operations on a non-2xx response.
type StatusError = httpx.StatusError

// IsStatus reports whether err carries an HTTP status error with code.
func IsStatus(err error, code int) bool { return httpx.IsStatus(err, code) }

// Event is one presence-feed status change.
type Event = psub.Event

// Handler receives presence-feed events in stream order.
type Handler = psub.Handler

// Stats is a snapshot of the fan-out dispatcher counters.
type Stats = dispatch.Stats

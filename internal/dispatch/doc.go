// Package dispatch runs fire-and-forget push tasks with a bounded number of
// them in flight.
//
// Submit never waits for a task to finish. While fewer than Limit tasks are
// running, a submitted task starts at once on its own goroutine; at the
// ceiling it is queued and picked up by the first goroutine that finishes.
// Task outcomes are not returned to the submitter: failures are logged,
// counted in Stats and passed to the optional OnFailure hook.
//
// Shutdown stops intake (Submit returns ErrClosed) and waits for queued and
// running tasks to drain.
package dispatch

// Package psub reads the icomet presence feed (/psub).
//
// The endpoint answers with a response body that never ends on its own: one
// "<status> <channel>\n" line per connection-state change, with blank
// keep-alive lines in between. Reader.Run opens the feed, splits the byte
// stream on newlines (lines may span reads), parses each line into an Event
// and calls the handler synchronously, in stream order.
//
// Run returns nil when the server closes the feed or ctx is cancelled,
// an error wrapping ErrConnection when the feed cannot be opened and an error
// wrapping ErrStream when a read fails mid-stream. The response body is closed
// on every path.
package psub

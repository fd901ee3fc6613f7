// Package httpx is the HTTP request collaborator shared by every icomet
// operation.
//
// It performs GET requests against a base URL with a per-request timeout and
// turns non-2xx responses into *StatusError values. Stream opens the same kind
// of request without a body deadline so long-lived feeds can be read
// incrementally.
//
// A Client is safe for concurrent use; the fan-out dispatcher relies on that.
package httpx

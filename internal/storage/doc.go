// Package storage journals daemon activity (presence events, scheduled
// pushes) to a local sink so operators can inspect what the feed reported.
//
// Two drivers exist:
//   - "file":   append-only JSON Lines
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
package storage

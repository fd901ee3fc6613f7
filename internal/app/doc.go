// Package app wires the long-running daemon behind `icomet run`: presence
// feed with reconnects, local event sinks, scheduled pushes and config hot
// reload.
package app

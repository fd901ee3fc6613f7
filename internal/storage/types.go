package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record kinds.
const (
	KindPresence = "presence"
	KindSchedule = "schedule"
	KindPush     = "push"
)

// Record is one journal line. Keep it compact and schema-stable.
type Record struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Channel string    `json:"channel,omitempty"`
	Status  int       `json:"status,omitempty"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

package config

// Config is the on-disk configuration of the icomet CLI/daemon.
//
// JSON and YAML are both accepted (see coerceToJSONBytes); unknown keys are
// rejected so typos surface on load and on hot reload.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Subscribe SubscribeConfig `json:"subscribe"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Schedules []ScheduleEntry `json:"schedules,omitempty"`
	Debug     *DebugConfig    `json:"debug,omitempty"`
}

// ServerConfig describes the icomet server and client-side limits.
//
// Changing this section requires a restart of the daemon.
//
// Defaults (when fields are omitted/zero):
//   - timeout: "5s"
//   - concurrency_limit: 128
//   - rate_per_sec: 0 (unpaced)
type ServerConfig struct {
	URI string `json:"uri" env:"URI"`
	// Timeout is a Go duration string (e.g. "5s").
	Timeout          string `json:"timeout,omitempty" env:"TIMEOUT"`
	ConcurrencyLimit int    `json:"concurrency_limit,omitempty" env:"CONCURRENCY_LIMIT"`
	RatePerSec       int    `json:"rate_per_sec,omitempty" env:"RATE_PER_SEC"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"LEVEL"`
	Console bool        `json:"console" env:"CONSOLE"`
	JSON    bool        `json:"json,omitempty" env:"JSON"`
	File    LoggingFile `json:"file" envPrefix:"FILE_"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Path    string `json:"path" env:"PATH"`
}

// SubscribeConfig controls the daemon's presence-feed loop.
//
// Reconnect delays are Go duration strings; the loop backs off exponentially
// from reconnect_min (default "1s") to reconnect_max (default "30s").
type SubscribeConfig struct {
	Enabled      bool   `json:"enabled" env:"ENABLED"`
	ReconnectMin string `json:"reconnect_min,omitempty" env:"RECONNECT_MIN"`
	ReconnectMax string `json:"reconnect_max,omitempty" env:"RECONNECT_MAX"`
}

// StorageConfig controls the optional presence-event journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./icomet_events.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ScheduleEntry is a recurring push or broadcast run by the daemon.
//
// Schedule accepts cron ("*/5 * * * *", "@hourly"), Go durations ("55m")
// or HH:MM intervals ("02:30"). An empty Channels list broadcasts to every
// channel on the server.
type ScheduleEntry struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Channels []string `json:"channels,omitempty"`
	Content  string   `json:"content"`
	// Timeout is a Go duration string; "0s" or empty uses the server timeout.
	Timeout string `json:"timeout,omitempty"`
}

// DebugConfig controls the operator HTTP endpoint (/healthz, /statz, pprof).
// It can be toggled and rebound on hot reload.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	// Token is required for non-loopback binds unless allow_insecure is set.
	Token                string `json:"token,omitempty"`
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

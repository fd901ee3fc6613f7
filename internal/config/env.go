package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment override, e.g. ICOMET_SERVER_URI.
const EnvPrefix = "ICOMET_"

// envOverlay mirrors the env-overridable sections of Config.
type envOverlay struct {
	Server    ServerConfig    `envPrefix:"SERVER_"`
	Logging   LoggingConfig   `envPrefix:"LOGGING_"`
	Subscribe SubscribeConfig `envPrefix:"SUBSCRIBE_"`
}

// LoadDotEnv loads KEY=VALUE pairs from files into the process environment
// without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays ICOMET_* environment variables on cfg. Only variables
// that are actually set replace file values.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, env.Options{Prefix: EnvPrefix})
}

func applyEnv(cfg *Config, opts env.Options) error {
	if cfg == nil {
		return nil
	}
	ov := envOverlay{Server: cfg.Server, Logging: cfg.Logging, Subscribe: cfg.Subscribe}
	if err := env.ParseWithOptions(&ov, opts); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	cfg.Server = ov.Server
	cfg.Logging = ov.Logging
	cfg.Subscribe = ov.Subscribe
	return nil
}

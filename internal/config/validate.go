package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks static constraints. It does not parse schedule strings;
// the scheduler does that when registering entries.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	uri := strings.TrimSpace(cfg.Server.URI)
	if uri == "" {
		errs = append(errs, errors.New("server.uri is required"))
	} else if u, err := url.Parse(uri); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.uri %q: must be an absolute http(s) url", uri))
	}
	if _, err := ParseDurationField("server.timeout", cfg.Server.Timeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Server.ConcurrencyLimit < 0 {
		errs = append(errs, fmt.Errorf("server.concurrency_limit must be > 0, got %d", cfg.Server.ConcurrencyLimit))
	}
	if cfg.Server.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("server.rate_per_sec must be >= 0, got %d", cfg.Server.RatePerSec))
	}

	if _, err := ParseDurationField("subscribe.reconnect_min", cfg.Subscribe.ReconnectMin); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("subscribe.reconnect_max", cfg.Subscribe.ReconnectMax); err != nil {
		errs = append(errs, err)
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, errors.New("storage.path is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver %q: unknown driver", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if d := cfg.Debug; d != nil {
		if addr := strings.TrimSpace(d.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Errorf("debug.addr %q: %w", addr, err))
			}
		}
		if d.MutexProfileFraction < 0 || d.BlockProfileRate < 0 {
			errs = append(errs, errors.New("debug profile rates must be >= 0"))
		}
	}

	seen := map[string]struct{}{}
	for i, e := range cfg.Schedules {
		path := fmt.Sprintf("schedules[%d]", i)
		name := strings.TrimSpace(e.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", path))
		} else if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q is duplicated", path, name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(e.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s.schedule is required", path))
		}
		if _, err := ParseDurationField(path+".timeout", e.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

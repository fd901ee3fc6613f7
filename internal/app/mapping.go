package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"icomet/internal/config"
	"icomet/internal/debugsrv"
	"icomet/internal/scheduler"
	"icomet/internal/storage"
	"icomet/pkg/icomet"
	logx "icomet/pkg/logx"
)

// ClientConfig maps the server section onto the client config.
func ClientConfig(cfg *config.Config) icomet.Config {
	if cfg == nil {
		return icomet.Config{}
	}
	return icomet.Config{
		URI:              strings.TrimSpace(cfg.Server.URI),
		Timeout:          cfg.Server.TimeoutOrDefault(icomet.DefaultTimeout),
		ConcurrencyLimit: cfg.Server.ConcurrencyLimit,
		RatePerSec:       cfg.Server.RatePerSec,
	}
}

// LogConfig maps the logging section onto logx.
func LogConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// DebugConfig maps the debug section; nil disables the server.
func DebugConfig(cfg *config.Config) debugsrv.Config {
	if cfg == nil || cfg.Debug == nil {
		return debugsrv.Config{}
	}
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

// validateSchedules rejects schedule strings the scheduler cannot register,
// so a bad hot reload never replaces a working job set.
func validateSchedules(_ context.Context, cfg *config.Config) error {
	var errs []error
	for _, e := range cfg.Schedules {
		if _, err := scheduler.ParseSchedule(e.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedules %q: %w", e.Name, err))
		}
	}
	return errors.Join(errs...)
}

// scheduleJobs turns schedule entries into scheduler jobs that push through c.
func scheduleJobs(c *icomet.Client, entries []config.ScheduleEntry) []scheduler.Job {
	jobs := make([]scheduler.Job, 0, len(entries))
	for _, e := range entries {
		timeout, _ := config.ParseDurationField("timeout", e.Timeout)
		jobs = append(jobs, scheduler.Job{
			Name:     e.Name,
			Schedule: e.Schedule,
			Timeout:  timeout,
			Run:      pushJob(c, e.Content, e.Channels),
		})
	}
	return jobs
}

func pushJob(c *icomet.Client, content string, channels []string) func(ctx context.Context) error {
	channels = append([]string(nil), channels...)
	return func(ctx context.Context) error {
		switch len(channels) {
		case 0:
			ok, err := c.Broadcast(ctx, content)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("broadcast rejected by server")
			}
			return nil
		case 1:
			ok, err := c.Push(ctx, channels[0], content)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("push to %q rejected by server", channels[0])
			}
			return nil
		default:
			// per-channel failures surface through the push-failure hook
			_, err := c.BroadcastTo(ctx, content, channels)
			return err
		}
	}
}

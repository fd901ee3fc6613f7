package config

import (
	"reflect"
	"sort"
	"strings"

	logx "icomet/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) structured attrs for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.uri", strings.TrimSpace(newCfg.Server.URI)),
			logx.String("server.timeout", strings.TrimSpace(newCfg.Server.Timeout)),
			logx.Int("server.concurrency_limit", newCfg.Server.ConcurrencyLimit),
			logx.Int("server.rate_per_sec", newCfg.Server.RatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Subscribe != newCfg.Subscribe {
		changed = append(changed, "subscribe")
		attrs = append(attrs,
			logx.Bool("subscribe.enabled", newCfg.Subscribe.Enabled),
			logx.String("subscribe.reconnect_min", newCfg.Subscribe.ReconnectMin),
			logx.String("subscribe.reconnect_max", newCfg.Subscribe.ReconnectMax),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	var oD, nD DebugConfig
	if oldCfg.Debug != nil {
		oD = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		nD = *newCfg.Debug
	}
	if oD != nD {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", nD.Addr),
			logx.Bool("debug.token_set", nD.Token != ""),
		)
	}

	if names := DiffSchedules(oldCfg.Schedules, newCfg.Schedules); len(names) > 0 {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Strings("schedules.changed", names),
			logx.Int("schedules.count", len(newCfg.Schedules)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// DiffSchedules lists schedule names that were added, removed or modified.
func DiffSchedules(oldS, newS []ScheduleEntry) []string {
	index := func(in []ScheduleEntry) map[string]ScheduleEntry {
		m := make(map[string]ScheduleEntry, len(in))
		for _, e := range in {
			m[strings.TrimSpace(e.Name)] = e
		}
		return m
	}
	om, nm := index(oldS), index(newS)

	set := map[string]struct{}{}
	for k := range om {
		set[k] = struct{}{}
	}
	for k := range nm {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := om[name]
		n, inNew := nm[name]
		if inOld != inNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

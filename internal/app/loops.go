package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"icomet/internal/backoff"
	"icomet/internal/config"
	"icomet/internal/eventbus"
	"icomet/internal/scheduler"
	"icomet/internal/storage"
	"icomet/pkg/icomet"
	logx "icomet/pkg/logx"
)

// Disconnect is the payload of eventbus.TypeDisconnected.
type Disconnect struct {
	Events int
	Err    error
	Retry  time.Duration
}

// PushFailure is the payload of eventbus.TypePushFailed.
type PushFailure struct {
	Channel string
	Err     error
}

// subscribeLoop keeps the presence feed open, reconnecting with jittered
// backoff. A session that delivered at least one event resets the backoff.
func (a *App) subscribeLoop(ctx context.Context, sc config.SubscribeConfig) error {
	minDelay, maxDelay := sc.ReconnectBounds()
	bo := backoff.New(minDelay, maxDelay)
	log := a.log.With(logx.String("loop", "psub"))

	for {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeConnecting})
		a.feed.sessions.Add(1)
		n := 0
		err := a.client.SubscribeEvents(ctx, func(ev icomet.Event) {
			n++
			a.feed.events.Add(1)
			a.bus.Publish(eventbus.Event{Type: eventbus.TypePresence, Data: ev})
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			a.feed.failures.Add(1)
		}
		if n > 0 {
			bo.Reset()
		}
		wait := bo.Next()
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeDisconnected, Data: Disconnect{Events: n, Err: err, Retry: wait}})
		if err != nil {
			log.Warn("presence feed failed; reconnecting", logx.Err(err), logx.Int("events", n), logx.Duration("backoff", wait))
		} else {
			log.Info("presence feed closed by server; reconnecting", logx.Int("events", n), logx.Duration("backoff", wait))
		}
		if !backoff.Sleep(ctx, wait) {
			return nil
		}
	}
}

// sinkLoop drains bus events into the log and the optional journal. On
// cancellation it flushes whatever is still buffered before returning.
func (a *App) sinkLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			a.flushSink(events)
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.handleEvent(ctx, e)
		}
	}
}

func (a *App) flushSink(events <-chan eventbus.Event) {
	ctx := context.Background()
	n := 0
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			a.handleEvent(ctx, e)
			n++
		default:
			if n > 0 {
				a.log.Debug("journal sink flushed", logx.Int("events", n))
			}
			return
		}
	}
}

func (a *App) handleEvent(ctx context.Context, e eventbus.Event) {
	var rec *storage.Record
	switch d := e.Data.(type) {
	case icomet.Event:
		a.log.Debug("presence", logx.Int("channel", d.Channel), logx.Int("status", d.Status))
		rec = &storage.Record{Kind: storage.KindPresence, Channel: strconv.Itoa(d.Channel), Status: d.Status, OK: true}
	case scheduler.Result:
		r := storage.Record{Kind: storage.KindSchedule, Detail: d.Name, OK: d.Err == nil}
		if d.Err != nil {
			r.Error = d.Err.Error()
		}
		rec = &r
	case PushFailure:
		r := storage.Record{Kind: storage.KindPush, Channel: d.Channel}
		if d.Err != nil {
			r.Error = d.Err.Error()
		}
		rec = &r
	default:
		a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
	if rec == nil || a.store == nil {
		return
	}
	rec.At = e.Time
	if err := a.store.Append(ctx, *rec); err != nil && ctx.Err() == nil {
		a.log.Warn("journal append failed", logx.String("kind", rec.Kind), logx.Err(err))
	}
}

func (a *App) onPushFailure(channel string, err error) {
	a.log.Warn("fan-out push failed", logx.Channel(channel), logx.Err(err))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypePushFailed, Data: PushFailure{Channel: channel, Err: err}})
}

func (a *App) onScheduleResult(r scheduler.Result) {
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduled, Data: r})
}

// reloadLoop applies hot-reloaded config. Logging and schedules change live;
// server, subscribe and storage changes need a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) error {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.notify(daemon.SdNotifyReloading)
	defer a.notify(daemon.SdNotifyReady)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(LogConfig(newCfg))
		case "debug":
			if err := a.debug.Reconfigure(context.Background(), DebugConfig(newCfg)); err != nil {
				a.log.Warn("debug server reconfigure failed", logx.Err(err))
			}
		case "schedules":
			if err := a.sched.Replace(scheduleJobs(a.client, newCfg.Schedules)); err != nil {
				a.log.Warn("some schedules were not applied", logx.Err(err))
			}
		case "server", "subscribe", "storage":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

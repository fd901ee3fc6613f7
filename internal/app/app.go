package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"icomet/internal/config"
	"icomet/internal/debugsrv"
	"icomet/internal/eventbus"
	"icomet/internal/scheduler"
	"icomet/internal/storage"
	"icomet/pkg/icomet"
	logx "icomet/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	storeOnce sync.Once
	// sinkStop ends the journal sink; set by Run.
	sinkStop func(ctx context.Context) error

	client *icomet.Client
	sched  *scheduler.Service
	debug  *debugsrv.Server

	feed feedStats

	// notify reports state to the service manager (sd_notify).
	notify func(state string)
}

// NewApp loads the config at cfgPath and builds every component. Nothing
// runs until Run.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateSchedules)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(LogConfig(cfg))
	cfgm.SetLogger(log.With(logx.Component("config")))

	a := &App{
		cfgm: cfgm,
		log:  log.With(logx.Component("app")),
		logs: logSvc,
		bus:  eventbus.New(),
		notify: func(state string) {
			_, _ = daemon.SdNotify(false, state)
		},
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.Component("storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ccfg := ClientConfig(cfg)
	ccfg.OnPushFailure = a.onPushFailure
	client, err := icomet.New(ccfg, log.With(logx.Component("icomet")))
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.client = client

	a.sched = scheduler.New(scheduler.Config{
		StartupSpread: true,
		OnResult:      a.onScheduleResult,
	}, log.With(logx.Component("scheduler")))
	if err := a.sched.Replace(scheduleJobs(client, cfg.Schedules)); err != nil {
		a.closeStore()
		return nil, err
	}
	a.debug = debugsrv.New(DebugConfig(cfg), a.status, log.With(logx.Component("debug")))
	return a, nil
}

// Client exposes the underlying icomet client.
func (a *App) Client() *icomet.Client { return a.client }

// Bus exposes the in-process event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Run blocks until ctx is cancelled or a component fails, then stops
// everything. A plain cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfgm.Get()
	g, gctx := errgroup.WithContext(ctx)

	// Sinks subscribe before any producer starts so no early event is missed.
	// The sink outlives the errgroup; Stop ends it after the dispatcher drains.
	events, unsub := a.bus.Subscribe(256)
	sinkCtx, sinkCancel := context.WithCancel(context.WithoutCancel(ctx))
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		defer unsub()
		a.sinkLoop(sinkCtx, events)
	}()
	a.sinkStop = func(c context.Context) error {
		sinkCancel()
		select {
		case <-sinkDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	}

	a.sched.Start(gctx)

	// The debug endpoint is optional; a bind failure is logged, not fatal.
	if err := a.debug.Start(); err != nil {
		a.log.Error("debug server not started", logx.Err(err))
	}

	if cfg.Subscribe.Enabled {
		g.Go(func() error { return a.subscribeLoop(gctx, cfg.Subscribe) })
	} else {
		a.log.Info("presence feed disabled")
	}

	reload := a.cfgm.Subscribe(8)
	g.Go(func() error {
		defer a.cfgm.Unsubscribe(reload)
		return a.reloadLoop(gctx, reload)
	})
	g.Go(func() error { return a.cfgm.Watch(gctx) })

	g.Go(func() error { return a.watchdog(gctx) })

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("uri", cfg.Server.URI),
		logx.Bool("subscribe", cfg.Subscribe.Enabled),
		logx.Int("schedules", len(cfg.Schedules)),
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		a.log.Error("app failed", logx.Err(err))
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	a.Stop(stopCtx)
	return err
}

// Stop drains and closes components in dependency order: producers first,
// then the dispatcher, then the journal sink and finally the store. Each step
// is bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context) {
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "dispatcher", 5*time.Second, func(c context.Context) error {
		err := a.client.Shutdown(c)
		st := a.client.Stats()
		a.log.Info("dispatcher drained",
			logx.Uint64("done", st.Done),
			logx.Uint64("failed", st.Failed),
			logx.Int("abandoned", st.Active+st.Queued),
		)
		return err
	})
	if a.sinkStop != nil {
		a.step(ctx, "journal", time.Second, a.sinkStop)
	}
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped", logx.Uint64("bus_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// never extend the caller's deadline
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	var err error
	a.storeOnce.Do(func() { err = a.store.Close() })
	return err
}

// watchdog pings the systemd watchdog at half its interval when enabled.
func (a *App) watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.notify(daemon.SdNotifyWatchdog)
		}
	}
}

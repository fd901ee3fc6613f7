package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	logx "icomet/pkg/logx"
)

func New(cfg Config, log logx.Logger) (*Dispatcher, error) {
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("%w: concurrency limit must be > 0, got %d", ErrConfiguration, cfg.Limit)
	}
	if cfg.Exec == nil {
		return nil, fmt.Errorf("%w: exec func is required", ErrConfiguration)
	}
	if cfg.RatePerSec < 0 {
		return nil, fmt.Errorf("%w: rate_per_sec must be >= 0, got %d", ErrConfiguration, cfg.RatePerSec)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		cfg:     cfg,
		log:     log,
		sem:     semaphore.NewWeighted(int64(cfg.Limit)),
		drained: make(chan struct{}),
	}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	// Tasks outlive the Submit caller, so they run under the dispatcher's own context.
	d.runCtx, d.runCancel = context.WithCancel(context.Background())
	return d, nil
}

// Submit hands t off for execution and returns without waiting for it.
func (d *Dispatcher) Submit(t Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.submitted.Add(1)

	// Queued tasks keep their place: a fresh task only takes a free slot when nobody is waiting.
	if len(d.queue) == 0 && d.sem.TryAcquire(1) {
		d.active.Add(1)
		d.wg.Add(1)
		go d.loop(t)
		return nil
	}
	d.queue = append(d.queue, t)
	d.log.Trace("task queued", logx.Task(t.ID), logx.Channel(t.Channel), logx.Int("queue_len", len(d.queue)))
	return nil
}

// loop owns one slot: it runs t, then keeps pulling queued tasks until the
// queue is empty and gives the slot back.
func (d *Dispatcher) loop(t Task) {
	defer d.wg.Done()
	for {
		d.exec(t)

		d.mu.Lock()
		if len(d.queue) == 0 {
			d.active.Add(-1)
			d.sem.Release(1)
			d.mu.Unlock()
			return
		}
		t = d.queue[0]
		d.queue[0] = Task{}
		d.queue = d.queue[1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) exec(t Task) {
	start := time.Now()
	err := d.run(t)
	d.done.Add(1)
	if err == nil {
		d.log.Trace("task done", logx.Task(t.ID), logx.Channel(t.Channel), logx.Duration("took", time.Since(start)))
		return
	}
	d.failed.Add(1)
	d.log.Warn("push task failed", logx.Task(t.ID), logx.Channel(t.Channel), logx.Duration("took", time.Since(start)), logx.Err(err))
	if d.cfg.OnFailure != nil {
		d.cfg.OnFailure(t, err)
	}
}

func (d *Dispatcher) run(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in push task", logx.Task(t.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	if d.limiter != nil {
		if err := d.pace(); err != nil {
			return err
		}
	}
	return d.cfg.Exec(d.runCtx, t)
}

// pace waits for a limiter token. The slot stays held but is reported as
// pacing rather than active while it waits.
func (d *Dispatcher) pace() error {
	if d.limiter.Allow() {
		return nil
	}
	d.active.Add(-1)
	d.pacing.Add(1)
	defer func() {
		d.pacing.Add(-1)
		d.active.Add(1)
	}()
	return d.limiter.Wait(d.runCtx)
}

// Shutdown rejects further submissions and waits until every accepted task
// has run. If ctx ends first, running tasks see their context cancelled, the
// drain finishes in the background and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	start := time.Now()
	d.mu.Lock()
	d.closed = true
	pending := len(d.queue)
	d.mu.Unlock()

	d.drainOnce.Do(func() {
		d.log.Debug("dispatcher draining", logx.Int("active", int(d.active.Load())), logx.Int("queued", pending))
		go func() {
			d.wg.Wait()
			d.runCancel()
			close(d.drained)
			d.log.Debug("dispatcher drained", logx.Duration("took", time.Since(start)))
		}()
	})

	select {
	case <-d.drained:
		return nil
	case <-ctx.Done():
		d.runCancel()
		return ctx.Err()
	}
}

// Active returns the number of tasks currently executing. Tasks waiting on
// the rate limiter are not included.
func (d *Dispatcher) Active() int { return int(d.active.Load()) }

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	queued := len(d.queue)
	closed := d.closed
	d.mu.Unlock()
	return Stats{
		Limit:     d.cfg.Limit,
		Active:    int(d.active.Load()),
		Pacing:    int(d.pacing.Load()),
		Queued:    queued,
		Submitted: d.submitted.Load(),
		Done:      d.done.Load(),
		Failed:    d.failed.Load(),
		Closed:    closed,
	}
}

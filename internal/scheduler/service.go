package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "icomet/pkg/logx"
)

// Job is a named recurring unit of work.
type Job struct {
	Name     string
	Schedule string
	// Timeout bounds one run; 0 means no per-run deadline.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Result describes one finished run.
type Result struct {
	Name    string
	Started time.Time
	Took    time.Duration
	Err     error
}

type Config struct {
	// Location for cron expressions; nil means time.Local.
	Location *time.Location
	// StartupSpread delays the first run of interval jobs by a random amount
	// (at most one interval, capped at 30s).
	StartupSpread bool
	// OnResult is called after every run, from the run's goroutine.
	OnResult func(Result)
}

// Info is a read-only view of a registered job.
type Info struct {
	Name string
	Spec string
	Kind SpecKind
	Next time.Time
	Prev time.Time
}

type entry struct {
	job  Job
	spec ParsedSpec
	id   cron.EntryID
}

type Service struct {
	log    logx.Logger
	cfg    Config
	parser cron.Parser

	mu     sync.Mutex
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
	jobs   map[string]*entry
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		log: log,
		cfg: cfg,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   map[string]*entry{},
	}
}

// Add registers or replaces (by name) a job. Jobs added before Start are
// scheduled when Start runs.
func (s *Service) Add(j Job) error {
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		return errors.New("name required")
	}
	if j.Run == nil {
		return fmt.Errorf("schedule %q: run func required", j.Name)
	}
	ps, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", j.Name, err)
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("schedule %q: %w", j.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(j.Name)
	e := &entry{job: j, spec: ps}
	s.jobs[j.Name] = e
	if s.c != nil {
		s.registerLocked(e)
	}
	return nil
}

// Remove unregisters a job by name. It reports whether the job existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

// Replace makes the registered set equal to jobs: missing names are removed,
// the rest are upserted. Invalid jobs are skipped and reported together.
func (s *Service) Replace(jobs []Job) error {
	keep := make(map[string]struct{}, len(jobs))
	var errs []error
	for _, j := range jobs {
		if err := s.Add(j); err != nil {
			errs = append(errs, err)
			continue
		}
		keep[strings.TrimSpace(j.Name)] = struct{}{}
	}

	s.mu.Lock()
	for name := range s.jobs {
		if _, ok := keep[name]; !ok {
			s.removeLocked(name)
		}
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.c != nil && e.id != 0 {
		s.c.Remove(e.id)
	}
	delete(s.jobs, name)
	return true
}

func (s *Service) registerLocked(e *entry) {
	var sched cron.Schedule
	if e.spec.Kind == SpecInterval && s.cfg.StartupSpread {
		sched = intervalWithSpread(e.spec.Every, time.Now())
	} else {
		// validated in Add
		sched, _ = s.parser.Parse(e.spec.CronSpec())
	}
	job := e.job
	e.id = s.c.Schedule(sched, cron.FuncJob(func() { s.run(job) }))
	s.log.Debug("schedule registered",
		logx.String("name", job.Name),
		logx.String("spec", e.spec.CronSpec()),
		logx.Duration("timeout", job.Timeout),
	)
}

// Start begins triggering. Runs use a context derived from ctx that is
// cancelled by Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	s.runCtx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.jobs {
		s.registerLocked(e)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.cfg.Location.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts triggering, cancels running jobs and waits for them (bounded by ctx).
// Registered jobs are kept so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for _, e := range s.jobs {
		e.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	start := time.Now()
	done := c.Stop().Done()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) (Result, error) {
	s.mu.Lock()
	e, ok := s.jobs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("schedule %q not found", name)
	}
	res := s.exec(ctx, e.job)
	return res, res.Err
}

// Entries lists registered jobs sorted by name.
func (s *Service) Entries() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.jobs))
	for _, e := range s.jobs {
		it := Info{Name: e.job.Name, Spec: e.spec.CronSpec(), Kind: e.spec.Kind}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			it.Next, it.Prev = ce.Next, ce.Prev
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) run(j Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	s.exec(ctx, j)
}

func (s *Service) exec(ctx context.Context, j Job) Result {
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	res := Result{Name: j.Name, Started: time.Now()}
	res.Err = j.Run(ctx)
	res.Took = time.Since(res.Started)

	if res.Err != nil {
		s.log.Warn("scheduled job failed", logx.String("name", j.Name), logx.Duration("took", res.Took), logx.Err(res.Err))
	} else {
		s.log.Debug("scheduled job done", logx.String("name", j.Name), logx.Duration("took", res.Took))
	}
	if s.cfg.OnResult != nil {
		s.cfg.OnResult(res)
	}
	return res
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}

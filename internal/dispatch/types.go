package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	logx "icomet/pkg/logx"
)

// Task is one push of Content to Channel.
type Task struct {
	// ID is assigned by Submit when empty.
	ID      string
	Channel string
	Content string
}

// ExecFunc performs a task. It must be safe for concurrent use.
type ExecFunc func(ctx context.Context, t Task) error

type Config struct {
	// Limit is the maximum number of tasks executing at once. Must be > 0.
	Limit int
	// RatePerSec paces task starts; 0 disables pacing.
	RatePerSec int
	Exec       ExecFunc
	// OnFailure is called (from the task goroutine) for every failed task.
	OnFailure func(t Task, err error)
}

// Stats is a point-in-time snapshot of the dispatcher counters.
// Active counts tasks executing; Pacing counts tasks that hold a slot but
// still wait on the rate limiter. Active+Pacing never exceeds Limit.
type Stats struct {
	Limit     int    `json:"limit"`
	Active    int    `json:"active"`
	Pacing    int    `json:"pacing"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Done      uint64 `json:"done"`
	Failed    uint64 `json:"failed"`
	Closed    bool   `json:"closed"`
}

type Dispatcher struct {
	cfg     Config
	log     logx.Logger
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu     sync.Mutex
	queue  []Task
	closed bool

	active    atomic.Int64
	pacing    atomic.Int64
	submitted atomic.Uint64
	done      atomic.Uint64
	failed    atomic.Uint64

	wg        sync.WaitGroup
	runCtx    context.Context
	runCancel context.CancelFunc

	drainOnce sync.Once
	drained   chan struct{}
}

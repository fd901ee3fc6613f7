package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "icomet/pkg/logx"
)

func nopExec(context.Context, Task) error { return nil }

func TestNewRejectsNonPositiveLimit(t *testing.T) {
	t.Parallel()
	for _, limit := range []int{0, -1, -128} {
		_, err := New(Config{Limit: limit, Exec: nopExec}, logx.Nop())
		require.ErrorIs(t, err, ErrConfiguration, "limit %d", limit)
	}
}

func TestNewRequiresExec(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Limit: 1}, logx.Nop())
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestCeilingAndExactlyOnce(t *testing.T) {
	t.Parallel()
	cases := []struct{ limit, tasks int }{
		{1, 0}, {1, 10}, {3, 50}, {8, 8}, {16, 200},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("limit=%d/tasks=%d", tc.limit, tc.tasks), func(t *testing.T) {
			t.Parallel()
			var (
				running atomic.Int64
				peak    atomic.Int64
				mu      sync.Mutex
				seen    = map[string]int{}
			)
			exec := func(ctx context.Context, task Task) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				mu.Lock()
				seen[task.Channel]++
				mu.Unlock()
				return nil
			}
			d, err := New(Config{Limit: tc.limit, Exec: exec}, logx.Nop())
			require.NoError(t, err)

			for i := 0; i < tc.tasks; i++ {
				require.NoError(t, d.Submit(Task{Channel: fmt.Sprintf("ch-%d", i), Content: "x"}))
				assert.LessOrEqual(t, d.Active(), tc.limit)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			require.NoError(t, d.Shutdown(ctx))

			assert.LessOrEqual(t, int(peak.Load()), tc.limit)
			require.Len(t, seen, tc.tasks)
			for ch, n := range seen {
				assert.Equal(t, 1, n, "channel %s ran %d times", ch, n)
			}
			st := d.Stats()
			assert.Equal(t, uint64(tc.tasks), st.Submitted)
			assert.Equal(t, uint64(tc.tasks), st.Done)
			assert.Zero(t, st.Active)
			assert.Zero(t, st.Queued)
		})
	}
}

func TestSubmitDoesNotWaitAtCeiling(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	exec := func(ctx context.Context, task Task) error {
		started <- struct{}{}
		<-release
		return nil
	}
	d, err := New(Config{Limit: 1, Exec: exec}, logx.Nop())
	require.NoError(t, err)

	begin := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Submit(Task{Channel: "c"}))
	}
	assert.Less(t, time.Since(begin), time.Second)

	<-started
	st := d.Stats()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 2, st.Queued)

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, uint64(3), d.Stats().Done)
}

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()
	d, err := New(Config{Limit: 2, Exec: nopExec}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, d.Shutdown(context.Background()))
	require.ErrorIs(t, d.Submit(Task{Channel: "late"}), ErrClosed)
	// Shutdown is idempotent.
	require.NoError(t, d.Shutdown(context.Background()))
	assert.True(t, d.Stats().Closed)
}

func TestFailuresAreSwallowedAndReported(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	var (
		mu     sync.Mutex
		failed []string
	)
	exec := func(ctx context.Context, task Task) error {
		if task.Channel == "bad" {
			return boom
		}
		if task.Channel == "panic" {
			panic("kaboom")
		}
		return nil
	}
	d, err := New(Config{
		Limit: 2,
		Exec:  exec,
		OnFailure: func(task Task, err error) {
			mu.Lock()
			failed = append(failed, task.Channel)
			mu.Unlock()
		},
	}, logx.Nop())
	require.NoError(t, err)

	for _, ch := range []string{"a", "bad", "b", "panic"} {
		require.NoError(t, d.Submit(Task{Channel: ch}))
	}
	require.NoError(t, d.Shutdown(context.Background()))

	assert.ElementsMatch(t, []string{"bad", "panic"}, failed)
	st := d.Stats()
	assert.Equal(t, uint64(4), st.Done)
	assert.Equal(t, uint64(2), st.Failed)
}

func TestShutdownTimeoutCancelsRunningTasks(t *testing.T) {
	t.Parallel()
	exec := func(ctx context.Context, task Task) error {
		<-ctx.Done()
		return ctx.Err()
	}
	d, err := New(Config{Limit: 1, Exec: exec}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, d.Submit(Task{Channel: "slow"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	// The cancelled task unblocks and the drain completes.
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestSubmitAssignsIDs(t *testing.T) {
	t.Parallel()
	ids := make(chan string, 2)
	d, err := New(Config{Limit: 2, Exec: func(ctx context.Context, task Task) error {
		ids <- task.ID
		return nil
	}}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, d.Submit(Task{Channel: "a"}))
	require.NoError(t, d.Submit(Task{ID: "fixed", Channel: "b"}))
	require.NoError(t, d.Shutdown(context.Background()))
	close(ids)

	var got []string
	for id := range ids {
		got = append(got, id)
	}
	require.Len(t, got, 2)
	assert.Contains(t, got, "fixed")
	for _, id := range got {
		assert.NotEmpty(t, id)
	}
}

func TestRateLimitedStillRunsAll(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	d, err := New(Config{Limit: 4, RatePerSec: 1000, Exec: func(ctx context.Context, task Task) error {
		n.Add(1)
		return nil
	}}, logx.Nop())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, d.Submit(Task{Channel: "c"}))
	}
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int64(20), n.Load())
}

func TestPacedTaskNotCountedActive(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var ran atomic.Int64
	d, err := New(Config{Limit: 2, RatePerSec: 1, Exec: func(ctx context.Context, task Task) error {
		ran.Add(1)
		<-release
		return nil
	}}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, d.Submit(Task{Channel: "a"}))
	require.NoError(t, d.Submit(Task{Channel: "b"}))

	// burst of 1: the first task runs, the second holds its slot waiting for a token
	require.Eventually(t, func() bool {
		st := d.Stats()
		return st.Active == 1 && st.Pacing == 1 && ran.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, d.Active())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	st := d.Stats()
	assert.Equal(t, int64(2), ran.Load())
	assert.Zero(t, st.Active)
	assert.Zero(t, st.Pacing)
}

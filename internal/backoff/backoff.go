// Package backoff provides the jittered exponential delay used by the config
// watcher restarts and the presence-feed reconnect loop.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

const defaultBase = 250 * time.Millisecond

// Backoff is a jittered exponential delay between base and max.
// It is not safe for concurrent use.
type Backoff struct {
	base, max, cur time.Duration
	rng            *rand.Rand
}

// New returns a Backoff starting at base and capped at max.
func New(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = defaultBase
	}
	if max < base {
		max = base
	}
	// local RNG to avoid global contention
	return &Backoff{base: base, max: max, cur: base, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns the current delay plus up to 50% jitter, then doubles the delay.
func (b *Backoff) Next() time.Duration {
	wait := b.cur + time.Duration(b.rng.Int63n(int64(b.cur/2)+1))
	if b.cur < b.max {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	return wait
}

func (b *Backoff) Reset() { b.cur = b.base }

// Sleep waits d or until ctx is done; it reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

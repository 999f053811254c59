package ingest

import (
	"math/rand"
	"time"

	"hazardguard/internal/config"
)

// Backoff schedules reconnect attempts for one connection. The first
// max_fast_attempts-1 failures back off exponentially from the reconnect
// interval up to max_backoff; from the max_fast_attempts-th consecutive
// failure on every retry waits the fallback interval until a connection
// succeeds. Jittered waits never fall below the previous wait.
type Backoff struct {
	cfg      config.SupervisorConfig
	failures int
	last     time.Duration
	jitter   func(n int64) int64
}

func NewBackoff(cfg config.SupervisorConfig) *Backoff {
	return &Backoff{cfg: cfg, jitter: rand.Int63n}
}

// Next records a failure and returns the wait before the next attempt.
// fallback is true once the fast attempts are used up.
func (b *Backoff) Next() (wait time.Duration, fallback bool) {
	b.failures++
	if b.InFallback() {
		return b.cfg.FallbackInterval, true
	}
	wait = b.fast(b.failures - 1)
	if wait < b.last {
		wait = b.last
	}
	b.last = wait
	return wait, false
}

// InFallback reports whether the fast attempts are used up.
func (b *Backoff) InFallback() bool {
	return b.cfg.MaxFastAttempts > 0 && b.failures >= b.cfg.MaxFastAttempts && b.cfg.FallbackInterval > 0
}

func (b *Backoff) fast(exp int) time.Duration {
	base := b.cfg.ReconnectInterval
	if base <= 0 {
		base = time.Second
	}
	limit := b.cfg.MaxBackoff
	if limit <= 0 || limit < base {
		limit = base
	}
	d := base
	for i := 0; i < exp && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	if b.cfg.Jitter && d > 1 {
		half := int64(d / 2)
		d = time.Duration(half + b.jitter(half+1))
	}
	return d
}

// Reset clears the failure count after a connection proved healthy.
func (b *Backoff) Reset() {
	b.failures = 0
	b.last = 0
}

func (b *Backoff) Failures() int {
	return b.failures
}

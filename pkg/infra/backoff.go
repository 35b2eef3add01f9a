package infra

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// jitter is the share a delay may stray from its step, either way
const jitter = 0.2

// Backoff hands out growing delays between attempts at a failing operation:
// broker reconnects and transient batch loads. Safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	base     time.Duration
	ceiling  time.Duration
	factor   float64
	step     time.Duration
	attempts int
}

func NewBackoff(base, ceiling time.Duration, factor float64) *Backoff {
	return &Backoff{base: base, ceiling: ceiling, factor: factor, step: base}
}

// Next counts an attempt and returns the delay before the following one,
// never below base nor above ceiling
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	spread := time.Duration((rand.Float64()*2 - 1) * jitter * float64(b.step))
	d := min(max(b.step+spread, b.base), b.ceiling)

	b.step = min(time.Duration(float64(b.step)*b.factor), b.ceiling)
	return d
}

// Reset starts over after a success
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.step = b.base
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Sleep waits d and reports false when ctx ended first
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

package interpreter

import (
	"sync"
	"time"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 60 * time.Second
)

// Breaker trips after a run of consecutive kernel failures and rejects
// executions for a cooldown period, giving a crash-looping interpreter
// room to recover instead of burning a kernel per request.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time
}

// NewBreaker creates a breaker with the default threshold and cooldown.
func NewBreaker() *Breaker {
	return &Breaker{threshold: breakerThreshold, cooldown: breakerCooldown}
}

// Allow reports whether an execution may proceed. An open breaker closes
// again once the cooldown elapses.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	if time.Since(b.openedAt) >= b.cooldown {
		b.failures = 0
		return true
	}
	return false
}

// RetryAfter returns how long callers should wait before retrying.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.cooldown - time.Since(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Failure records a kernel-level failure; the run of consecutive failures
// reaching the threshold opens the breaker.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures == b.threshold {
		b.openedAt = time.Now()
	}
}

// Success resets the failure run.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

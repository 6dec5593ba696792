// Package ratelimit guards calls into the chat API with a token bucket.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPollInterval is how often Wait retries TryAcquire.
const DefaultPollInterval = 50 * time.Millisecond

// Limiter hands out capacity tokens per refill interval. Refills are computed
// lazily from elapsed time on each acquisition attempt.
type Limiter struct {
	bucket   *rate.Limiter
	capacity int
	interval time.Duration
	poll     time.Duration
	now      func() time.Time
}

// New builds a limiter that starts full. A non-positive poll falls back to
// DefaultPollInterval.
func New(capacity int, interval, poll time.Duration) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	perSecond := float64(capacity) / interval.Seconds()
	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(perSecond), capacity),
		capacity: capacity,
		interval: interval,
		poll:     poll,
		now:      time.Now,
	}
}

// Capacity returns the bucket size.
func (l *Limiter) Capacity() int { return l.capacity }

// TryAcquire consumes one token if one is available and never blocks.
func (l *Limiter) TryAcquire() bool {
	return l.bucket.AllowN(l.now(), 1)
}

// Wait retries TryAcquire every poll interval until a token is granted and
// returns the time spent waiting. Waiters are not queued; whoever polls first
// after a refill wins.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	start := l.now()
	if l.TryAcquire() {
		return 0, nil
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return l.now().Sub(start), ctx.Err()
		case <-ticker.C:
			if l.TryAcquire() {
				return l.now().Sub(start), nil
			}
		}
	}
}

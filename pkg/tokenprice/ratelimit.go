package tokenprice

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter: at most max requests in any window.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	clock  Clock
	stamps []time.Time
}

// NewRateLimiter creates a limiter. Non-positive values fall back to 25 per minute.
func NewRateLimiter(max int, window time.Duration, clock Clock) *RateLimiter {
	if max <= 0 {
		max = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &RateLimiter{max: max, window: window, clock: clock}
}

func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	l.stamps = l.stamps[i:]
}

// Wait blocks until a slot is free in the window, then claims it.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.prune(now)
		if len(l.stamps) < l.max {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// Count returns the number of requests recorded in the current window.
func (l *RateLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	return len(l.stamps)
}

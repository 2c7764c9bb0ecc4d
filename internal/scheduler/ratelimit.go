package scheduler

import (
	"context"
	"time"
)

// RateLimiter paces outbound fetches with a sliding window: the first
// maxRequests calls pass immediately, after which calls are spaced at least
// window/maxRequests apart. It retains at most maxRequests timestamps.
//
// This is a pure pacing primitive. Backoff on upstream rejection belongs to
// the fetch client; the limiter never retries.
//
// RateLimiter is not safe for concurrent use. The run lock admits a single
// mutator, and passes call it sequentially.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	minInterval time.Duration

	// ring of the most recent call times; recent is the index of the
	// latest entry once size > 0.
	ring   []time.Time
	recent int
	size   int

	// nowFunc and sleepFunc are swapped out by tests.
	nowFunc   func() time.Time
	sleepFunc func(context.Context, time.Duration) error
}

// NewRateLimiter creates a limiter allowing maxRequests per window.
// maxRequests <= 0 disables limiting.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	l := &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		nowFunc:     time.Now,
		sleepFunc:   sleepContext,
	}
	if maxRequests > 0 {
		l.ring = make([]time.Time, maxRequests)
		l.minInterval = window / time.Duration(maxRequests)
	}
	return l
}

// Wait blocks until the caller may proceed, then records the call.
// It returns early with the context's error if ctx is cancelled while
// sleeping.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.maxRequests <= 0 {
		return nil
	}

	if l.size == l.maxRequests {
		elapsed := l.nowFunc().Sub(l.ring[l.recent])
		if elapsed < l.minInterval {
			if err := l.sleepFunc(ctx, l.minInterval-elapsed); err != nil {
				return err
			}
		}
	}

	l.record(l.nowFunc())
	return nil
}

// record stores a call time, evicting the oldest once the ring is full.
func (l *RateLimiter) record(t time.Time) {
	if l.size < l.maxRequests {
		l.ring[l.size] = t
		l.recent = l.size
		l.size++
		return
	}
	l.recent = (l.recent + 1) % l.maxRequests
	l.ring[l.recent] = t
}

// Recorded returns how many call times the limiter currently retains.
func (l *RateLimiter) Recorded() int {
	return l.size
}

// sleepContext sleeps for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package ratelimit provides a sliding-window rate limiter for pacing
// requests against hosts that throttle by trailing time window rather
// than by token refill.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// safetyMargin pads every computed sleep so the oldest recorded request
// has definitely left the window by the time the caller wakes up.
const safetyMargin = 100 * time.Millisecond

// Limiter admits at most limit calls within any trailing window. It
// keeps a time-ordered queue of past admissions and blocks callers
// until admitting one more would not exceed the limit.
type Limiter struct {
	limit  int
	window time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	stamps []time.Time
}

type Option func(*Limiter)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithSleep replaces the blocking sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.sleep = sleep
	}
}

func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit < 1 {
		limit = 1
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until one more request fits inside the trailing window,
// then records it and returns. The lock is held for the full
// expire/sleep/record sequence so waiters drain strictly in arrival
// order. It returns early only when ctx is canceled, in which case no
// request is recorded.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	now := l.now()
	l.expire(now)

	if len(l.stamps) >= l.limit {
		oldest := l.stamps[0]
		wait := l.window - now.Sub(oldest) + safetyMargin
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		now = l.now()
		l.expire(now)
	}

	l.stamps = append(l.stamps, now)
	return nil
}

// expire drops timestamps that have aged out of the window. Callers
// hold mu.
func (l *Limiter) expire(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

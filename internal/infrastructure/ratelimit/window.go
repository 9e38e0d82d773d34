// Package ratelimit provides the request budgets shared by pipeline stages.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Window is a sliding-window budget: at most Limit acquisitions within any
// Period. Timestamps older than Period are discarded on every check.
type Window struct {
	name   string
	limit  int
	period time.Duration

	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	onWait func(name string, wait time.Duration)

	mu     sync.Mutex
	stamps []time.Time
}

type Option func(*Window)

// WithClock replaces the wall clock and sleeper, for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(w *Window) {
		w.now = now
		w.sleep = sleep
	}
}

// WithWaitObserver is called whenever an acquisition has to block.
func WithWaitObserver(fn func(name string, wait time.Duration)) Option {
	return func(w *Window) {
		w.onWait = fn
	}
}

func NewWindow(name string, limit int, period time.Duration, opts ...Option) *Window {
	if limit <= 0 {
		limit = 1
	}
	if period <= 0 {
		period = time.Hour
	}
	w := &Window{
		name:   name,
		limit:  limit,
		period: period,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewHourly is a Window over one hour.
func NewHourly(name string, limit int, opts ...Option) *Window {
	return NewWindow(name, limit, time.Hour, opts...)
}

// Wait blocks until a slot is free and records the acquisition.
func (w *Window) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := w.tryAcquire()
		if wait <= 0 {
			return nil
		}

		slog.Info("rate_limit_wait", "limiter", w.name, "wait_ms", wait.Milliseconds(), "limit", w.limit)
		if w.onWait != nil {
			w.onWait(w.name, wait)
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (w *Window) tryAcquire() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)
	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return 0
	}
	return w.stamps[0].Add(w.period).Sub(now)
}

func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.period)
	drop := 0
	for drop < len(w.stamps) && !w.stamps[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[drop:]...)
	}
}

// Used reports acquisitions inside the current window.
func (w *Window) Used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.stamps)
}

func (w *Window) Remaining() int {
	return w.limit - w.Used()
}

// NewSpacer enforces a fixed minimum delay between consecutive requests.
func NewSpacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
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

// Package ratelimit tracks outbound message budgets. Window is the
// client-local limiter consulted before every send; RedisLimiter is the
// authoritative server-side counter.
package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of one consume attempt. RetryAfter is set only
// when Allowed is false.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Info is an immutable snapshot of the current window, suitable for
// display. Readers never observe a partially updated window.
type Info struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	IsLimited bool      `json:"isLimited"`
}

// Window is a per-room send quota over a fixed interval. The counter
// rolls over at resetAt; consuming never blocks and denial carries the
// time until the next rollover.
type Window struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	remaining int
	resetAt   time.Time
	lastNow   time.Time
}

// NewWindow creates a full window of limit sends per interval.
func NewWindow(limit int, window time.Duration) *Window {
	return &Window{
		limit:     limit,
		window:    window,
		remaining: limit,
	}
}

// TryConsume decrements the budget if any remains. It never errors: a
// clock that moved backward is clamped to the last observed time so
// remaining can never exceed limit.
func (w *Window) TryConsume(now time.Time) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	now = w.clamp(now)
	w.rollover(now)

	if w.remaining <= 0 {
		return Result{Allowed: false, RetryAfter: w.resetAt.Sub(now)}
	}
	w.remaining--
	return Result{Allowed: true}
}

// Snapshot reports the window state without consuming budget.
func (w *Window) Snapshot(now time.Time) Info {
	w.mu.Lock()
	defer w.mu.Unlock()

	now = w.clamp(now)
	w.rollover(now)

	return Info{
		Limit:     w.limit,
		Remaining: w.remaining,
		ResetAt:   w.resetAt,
		IsLimited: w.remaining <= 0,
	}
}

// Reset restores the full budget and starts a fresh interval. Called when
// the session switches rooms.
func (w *Window) Reset(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now = w.clamp(now)
	w.remaining = w.limit
	w.resetAt = now.Add(w.window)
}

func (w *Window) clamp(now time.Time) time.Time {
	if now.Before(w.lastNow) {
		return w.lastNow
	}
	w.lastNow = now
	return now
}

// rollover must be called with the mutex held and a clamped now.
func (w *Window) rollover(now time.Time) {
	if w.resetAt.IsZero() || !now.Before(w.resetAt) {
		w.remaining = w.limit
		w.resetAt = now.Add(w.window)
	}
}

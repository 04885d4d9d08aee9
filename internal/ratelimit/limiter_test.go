package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"guildchat/realtime/internal/ratelimit"
)

func TestWindowConsumeUntilEmpty(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := ratelimit.NewWindow(3, time.Minute)

	for i := 0; i < 3; i++ {
		res := w.TryConsume(now)
		assert.True(t, res.Allowed, "attempt %d should be allowed", i)
	}

	res := w.TryConsume(now)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)

	info := w.Snapshot(now)
	assert.Equal(t, 0, info.Remaining)
	assert.True(t, info.IsLimited)
}

func TestWindowRemainingNeverNegative(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := ratelimit.NewWindow(2, time.Minute)

	for i := 0; i < 10; i++ {
		w.TryConsume(now)
		info := w.Snapshot(now)
		assert.GreaterOrEqual(t, info.Remaining, 0)
		assert.LessOrEqual(t, info.Remaining, 2)
	}
}

func TestWindowRollover(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := ratelimit.NewWindow(1, time.Minute)

	assert.True(t, w.TryConsume(now).Allowed)
	assert.False(t, w.TryConsume(now.Add(30*time.Second)).Allowed)

	// Past the reset boundary the budget is full again.
	later := now.Add(61 * time.Second)
	assert.True(t, w.TryConsume(later).Allowed)

	info := w.Snapshot(later)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, later.Add(time.Minute), info.ResetAt)
}

func TestWindowDeniedHasNoSideEffects(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := ratelimit.NewWindow(1, time.Minute)

	w.TryConsume(now)
	before := w.Snapshot(now)

	w.TryConsume(now.Add(time.Second))
	w.TryConsume(now.Add(2 * time.Second))

	after := w.Snapshot(now.Add(3 * time.Second))
	assert.Equal(t, before.Remaining, after.Remaining)
	assert.Equal(t, before.ResetAt, after.ResetAt)
}

func TestWindowClampsBackwardClock(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := ratelimit.NewWindow(5, time.Minute)

	w.TryConsume(now)
	w.TryConsume(now.Add(10 * time.Second))

	// A clock jump backward must not roll the window over early or
	// inflate the budget.
	info := w.Snapshot(now.Add(-time.Hour))
	assert.Equal(t, 3, info.Remaining)
	assert.LessOrEqual(t, info.Remaining, info.Limit)
}

func TestWindowReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := ratelimit.NewWindow(2, time.Minute)

	w.TryConsume(now)
	w.TryConsume(now)
	w.Reset(now.Add(time.Second))

	info := w.Snapshot(now.Add(time.Second))
	assert.Equal(t, 2, info.Remaining)
	assert.False(t, info.IsLimited)
}

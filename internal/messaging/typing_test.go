package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypingLocalDebounce(t *testing.T) {
	c := newTypingCoordinator()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, c.startLocal(now), "first keystroke signals")
	assert.False(t, c.startLocal(now.Add(time.Second)), "within debounce window")
	assert.False(t, c.startLocal(now.Add(2*time.Second)))
	assert.True(t, c.startLocal(now.Add(typingDebounce+time.Second)), "debounce window elapsed")
}

func TestTypingStopLocalOnlyAfterStart(t *testing.T) {
	c := newTypingCoordinator()

	assert.False(t, c.stopLocal(), "no begin was signalled")

	c.startLocal(time.Now())
	assert.True(t, c.stopLocal())
	assert.False(t, c.stopLocal(), "stop is not repeated")
}

func TestTypingIdleExpiry(t *testing.T) {
	c := newTypingCoordinator()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c.startLocal(now)
	assert.False(t, c.idleExpired(now.Add(typingIdleTimeout-time.Second)))
	assert.True(t, c.idleExpired(now.Add(typingIdleTimeout)))

	// A fresh keystroke restarts the idle clock even when debounced.
	c.startLocal(now.Add(typingIdleTimeout - time.Millisecond))
	assert.False(t, c.idleExpired(now.Add(typingIdleTimeout)))
}

func TestTypingRemoteTTLSweep(t *testing.T) {
	c := newTypingCoordinator()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, c.observe("user_A", "alice", now))
	assert.False(t, c.observe("user_A", "alice", now.Add(time.Second)), "refresh, not a new entry")
	assert.True(t, c.observe("user_B", "bob", now.Add(2*time.Second)))

	// user_A refreshed at +1s, user_B seen at +2s.
	expired := c.sweep(now.Add(time.Second + typingTTL))
	assert.Len(t, expired, 1)
	assert.Equal(t, "user_A", expired[0].UserID)

	active := c.active()
	assert.Len(t, active, 1)
	assert.Equal(t, "user_B", active[0].UserID)

	// An expired user never reappears without a new signal.
	assert.Empty(t, c.sweep(now.Add(time.Second+typingTTL)))
	assert.Len(t, c.active(), 1)
}

func TestTypingExplicitRemoteStop(t *testing.T) {
	c := newTypingCoordinator()
	now := time.Now()

	c.observe("user_A", "alice", now)
	assert.True(t, c.remove("user_A"))
	assert.False(t, c.remove("user_A"))
	assert.Empty(t, c.active())
}

func TestTypingReset(t *testing.T) {
	c := newTypingCoordinator()
	now := time.Now()

	c.startLocal(now)
	c.observe("user_A", "alice", now)
	c.reset()

	assert.Empty(t, c.active())
	assert.False(t, c.stopLocal(), "local state cleared")
}

package messaging

import (
	"sort"
	"sync"
	"time"
)

// typingCoordinator debounces local typing signals and expires remote
// ones. Typing is best-effort and lossy: no acknowledgement, no retry,
// no ordering guarantee.
type typingCoordinator struct {
	mu sync.Mutex

	debounce    time.Duration
	idleTimeout time.Duration
	ttl         time.Duration

	remote map[string]TypingUser

	localTyping  bool
	lastSignalAt time.Time
	lastTypedAt  time.Time
}

func newTypingCoordinator() *typingCoordinator {
	return &typingCoordinator{
		debounce:    typingDebounce,
		idleTimeout: typingIdleTimeout,
		ttl:         typingTTL,
		remote:      make(map[string]TypingUser),
	}
}

// startLocal records local typing activity and reports whether a
// typing-begin signal should go out now (at most one per debounce window).
func (c *typingCoordinator) startLocal(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastTypedAt = now
	if c.localTyping && now.Sub(c.lastSignalAt) < c.debounce {
		return false
	}
	c.localTyping = true
	c.lastSignalAt = now
	return true
}

// stopLocal clears the local typing state and reports whether a
// typing-stop signal should go out (only if a begin was signalled).
func (c *typingCoordinator) stopLocal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.localTyping {
		return false
	}
	c.localTyping = false
	return true
}

// idleExpired reports whether local typing should auto-stop because no
// startLocal call arrived within the idle timeout.
func (c *typingCoordinator) idleExpired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localTyping && now.Sub(c.lastTypedAt) >= c.idleTimeout
}

// observe inserts or refreshes a remote typing user. Returns true if the
// user was not already in the active set.
func (c *typingCoordinator) observe(userID, username string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, known := c.remote[userID]
	c.remote[userID] = TypingUser{UserID: userID, Username: username, LastSeenAt: now}
	return !known
}

// remove deletes a remote typing user on an explicit stop signal.
// Returns true if the user was present.
func (c *typingCoordinator) remove(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.remote[userID]; !ok {
		return false
	}
	delete(c.remote, userID)
	return true
}

// sweep removes remote entries whose LastSeenAt is older than the TTL
// and returns them. An expired user never reappears without a new signal.
func (c *typingCoordinator) sweep(now time.Time) []TypingUser {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []TypingUser
	for id, u := range c.remote {
		if now.Sub(u.LastSeenAt) >= c.ttl {
			expired = append(expired, u)
			delete(c.remote, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].UserID < expired[j].UserID })
	return expired
}

// active returns the current remote typing set.
func (c *typingCoordinator) active() []TypingUser {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TypingUser, 0, len(c.remote))
	for _, u := range c.remote {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// reset drops all state, local and remote. Called on room switch.
func (c *typingCoordinator) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remote = make(map[string]TypingUser)
	c.localTyping = false
	c.lastSignalAt = time.Time{}
	c.lastTypedAt = time.Time{}
}

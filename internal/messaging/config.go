package messaging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TokenSource supplies the bearer token attached at handshake time. The
// session never refreshes tokens itself; an auth rejection is surfaced
// and refresh policy is left to the caller.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed, pre-issued token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Config is the messaging session configuration. Zero values fall back
// to conservative defaults; feature flags default to off.
type Config struct {
	// ServerURL is the websocket base URL, e.g. ws://localhost:8080.
	ServerURL string
	// HistoryURL is the HTTP base URL of the history endpoint. Defaults
	// to ServerURL with the scheme swapped to http(s).
	HistoryURL string

	Tokens TokenSource

	MaxMessagesPerMinute int
	ReconnectAttempts    int
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	HistoryPageSize      int

	// MessageRetentionDays is how long the server keeps messages. A
	// reconnect after being down longer than this clears the local log
	// outright, since nothing in it is guaranteed to still exist upstream.
	MessageRetentionDays int

	// GapThreshold is how long the transport may be down before a
	// reconnect marks history possibly discontinuous and invalidates the
	// backward pagination cursor.
	GapThreshold time.Duration

	EnableTypingIndicators bool
	EnableReadReceipts     bool

	Logger *zerolog.Logger
}

const (
	defaultMaxMessagesPerMinute = 10
	defaultReconnectAttempts    = 5
	defaultReconnectDelay       = time.Second
	defaultMaxReconnectDelay    = 30 * time.Second
	defaultHistoryPageSize      = 50
	defaultRetentionDays        = 30
	defaultGapThreshold         = 30 * time.Second

	typingDebounce    = 3 * time.Second
	typingIdleTimeout = 5 * time.Second
	typingTTL         = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxMessagesPerMinute <= 0 {
		c.MaxMessagesPerMinute = defaultMaxMessagesPerMinute
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = defaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = defaultHistoryPageSize
	}
	if c.MessageRetentionDays <= 0 {
		c.MessageRetentionDays = defaultRetentionDays
	}
	if c.GapThreshold <= 0 {
		c.GapThreshold = defaultGapThreshold
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}

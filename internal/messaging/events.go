package messaging

import (
	"time"

	"guildchat/realtime/internal/models"
	"guildchat/realtime/internal/ratelimit"
)

// EventType discriminates session events.
type EventType string

const (
	EventMessageReceived       EventType = "MESSAGE_RECEIVED"
	EventMessageSent           EventType = "MESSAGE_SENT"
	EventConnectionEstablished EventType = "CONNECTION_ESTABLISHED"
	EventConnectionLost        EventType = "CONNECTION_LOST"
	EventRateLimitExceeded     EventType = "RATE_LIMIT_EXCEEDED"
	EventTypingStarted         EventType = "TYPING_STARTED"
	EventTypingStopped         EventType = "TYPING_STOPPED"
	EventErrorOccurred         EventType = "ERROR_OCCURRED"
	EventMessagesLoaded        EventType = "MESSAGES_LOADED"
)

// Event is one entry in the session's ordered event stream. Only the
// fields relevant to Type are set. The consuming layer reduces events
// into its own view state; the session knows nothing about rendering.
type Event struct {
	Type      EventType
	RoomID    string
	Message   *models.Message
	Messages  []models.Message
	Typing    *TypingUser
	RateLimit *ratelimit.Info
	Err       error
}

// TypingUser is an ephemeral remote-typing entry. It expires after a
// fixed TTL without refresh and is never persisted.
type TypingUser struct {
	UserID     string
	Username   string
	LastSeenAt time.Time
}

// MessagingState is the session state snapshot exposed for consumers
// that prefer polling over reducing the event stream.
type MessagingState struct {
	RoomID         string
	Connection     ConnectionState
	Messages       []models.Message
	TypingUsers    []TypingUser
	RateLimit      ratelimit.Info
	HasMoreHistory bool
	Discontinuous  bool
}

// SendResult is the outcome of SendMessage. Rate limiting is an expected
// condition, reported as data rather than an error.
type SendResult struct {
	Success   bool
	RateLimit *ratelimit.Info
	Err       error
}

package messaging

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"guildchat/realtime/internal/models"
	"guildchat/realtime/internal/ratelimit"
)

// gapSession builds a session around a seeded store without the run
// goroutine, so the reconnect decision can be driven directly.
func gapSession(roomID string) *Session {
	return &Session{
		cfg:     Config{}.withDefaults(),
		logger:  zerolog.Nop(),
		limiter: ratelimit.NewWindow(10, time.Minute),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		store:   NewStore(roomID),
		typing:  newTypingCoordinator(),
		roomID:  roomID,
	}
}

func seedStore(s *Session) {
	s.store.Append(models.Message{ID: "m-1", RoomID: s.roomID, Text: "hi"})
	s.store.PrependPage(models.HistoryPage{NextToken: "stale-token", HasMore: true})
}

func TestGapReconnectInvalidatesCursor(t *testing.T) {
	s := gapSession("general")
	seedStore(s)
	s.wasConnected = true
	s.disconnectedAt = time.Now().Add(-31 * time.Second)
	s.pending = &pendingLoad{done: make(chan struct{})}
	epoch := s.epoch

	s.handleState(ConnectionState{Status: StatusConnected})

	token, hasMore := s.store.Cursor()
	assert.Empty(t, token)
	assert.True(t, hasMore)
	assert.True(t, s.store.Discontinuous())
	assert.Equal(t, 1, s.store.Len(), "messages survive a gap")
	assert.Equal(t, epoch+1, s.epoch, "in-flight page loads must be superseded")
	assert.Nil(t, s.pending)
}

func TestShortOutageKeepsCursor(t *testing.T) {
	s := gapSession("general")
	seedStore(s)
	s.wasConnected = true
	s.disconnectedAt = time.Now().Add(-2 * time.Second)
	epoch := s.epoch

	s.handleState(ConnectionState{Status: StatusConnected})

	token, _ := s.store.Cursor()
	assert.Equal(t, "stale-token", token)
	assert.False(t, s.store.Discontinuous())
	assert.Equal(t, epoch, s.epoch)
}

func TestOutageBeyondRetentionClearsLog(t *testing.T) {
	s := gapSession("general")
	seedStore(s)
	s.wasConnected = true
	s.disconnectedAt = time.Now().Add(-31 * 24 * time.Hour)
	epoch := s.epoch

	s.handleState(ConnectionState{Status: StatusConnected})

	assert.Zero(t, s.store.Len(), "nothing local is guaranteed to exist upstream")
	token, hasMore := s.store.Cursor()
	assert.Empty(t, token)
	assert.True(t, hasMore)
	assert.Equal(t, epoch+1, s.epoch)
}

func TestFirstConnectIsNotAGap(t *testing.T) {
	s := gapSession("general")
	seedStore(s)

	s.handleState(ConnectionState{Status: StatusConnected})

	assert.False(t, s.store.Discontinuous())
	token, _ := s.store.Cursor()
	assert.Equal(t, "stale-token", token)
}

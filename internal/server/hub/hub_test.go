package hub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"guildchat/realtime/internal/server/hub"
	"guildchat/realtime/internal/models"
	"guildchat/realtime/internal/ratelimit"
)

func startHub(t *testing.T, store *mockStore, quota *mockQuota) *hub.Hub {
	t.Helper()
	logger := zerolog.Nop()
	h := hub.New(hub.Config{Storage: store, Quota: quota, Logger: &logger})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func allowed() ratelimit.Info {
	return ratelimit.Info{Limit: 10, Remaining: 9, ResetAt: time.Now().Add(time.Minute)}
}

func TestRegisterSendsConnectionFrame(t *testing.T) {
	store := newMockStore()
	store.On("UpdateMemberCount", "room-1", 1).Return(nil)
	h := startHub(t, store, new(mockQuota))

	c := newFakeClient("u1", "ingrid", "room-1")
	h.RegisterCh <- c

	f := c.nextFrame(t)
	assert.Equal(t, models.FrameConnection, f.Type)
	assert.Equal(t, "room-1", f.RoomID)
	store.AssertCalled(t, "UpdateMemberCount", "room-1", 1)
}

func TestUnregisterClosesClientAndDecrementsCount(t *testing.T) {
	store := newMockStore()
	store.On("UpdateMemberCount", "room-1", 1).Return(nil)
	store.On("UpdateMemberCount", "room-1", -1).Return(nil)
	h := startHub(t, store, new(mockQuota))

	c := newFakeClient("u1", "ingrid", "room-1")
	h.RegisterCh <- c
	c.nextFrame(t)

	h.UnregisterCh <- c

	require.Eventually(t, c.closed.Load, time.Second, 5*time.Millisecond)
	store.AssertCalled(t, "UpdateMemberCount", "room-1", -1)
}

func TestIncomingMessageIsSavedAndPublished(t *testing.T) {
	store := newMockStore()
	quota := new(mockQuota)
	store.On("UpdateMemberCount", "room-1", 1).Return(nil)
	quota.On("Allow", mock.Anything, "room-1:u1").Return(allowed(), nil)

	saved := make(chan *models.Message, 1)
	store.On("SaveMessage", mock.Anything).Run(func(args mock.Arguments) {
		msg := args.Get(0).(*models.Message)
		msg.ID = "srv-1"
		msg.Timestamp = time.Now()
		saved <- msg
	}).Return(nil)

	published := make(chan models.Frame, 1)
	store.On("PublishFrame", "room-1", mock.Anything).Run(func(args mock.Arguments) {
		published <- args.Get(1).(models.Frame)
	}).Return(nil)

	h := startHub(t, store, quota)
	c := newFakeClient("u1", "ingrid", "room-1")
	h.RegisterCh <- c
	c.nextFrame(t)

	h.IncomingCh <- hub.Inbound{Client: c, Frame: models.Frame{Type: models.FrameMessage, Text: "  hello  "}}

	select {
	case msg := <-saved:
		assert.Equal(t, "hello", msg.Text, "text is trimmed before persisting")
		assert.Equal(t, "u1", msg.SenderID)
	case <-time.After(time.Second):
		t.Fatal("message never reached storage")
	}

	select {
	case f := <-published:
		assert.Equal(t, models.FrameMessage, f.Type)
		assert.Equal(t, "srv-1", f.ID, "published frame carries the server-assigned id")
	case <-time.After(time.Second):
		t.Fatal("message was never published")
	}
}

func TestRateLimitedMessageIsNotSaved(t *testing.T) {
	store := newMockStore()
	quota := new(mockQuota)
	store.On("UpdateMemberCount", "room-1", 1).Return(nil)
	quota.On("Allow", mock.Anything, "room-1:u1").
		Return(ratelimit.Info{Limit: 10, ResetAt: time.Now().Add(30 * time.Second), IsLimited: true}, nil)

	h := startHub(t, store, quota)
	c := newFakeClient("u1", "ingrid", "room-1")
	h.RegisterCh <- c
	c.nextFrame(t)

	h.IncomingCh <- hub.Inbound{Client: c, Frame: models.Frame{Type: models.FrameMessage, Text: "too fast"}}

	f := c.nextFrame(t)
	require.Equal(t, models.FrameRateLimit, f.Type)
	var payload models.RateLimitPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, 10, payload.Limit)
	assert.Zero(t, payload.Remaining)

	store.AssertNotCalled(t, "SaveMessage", mock.Anything)
	store.AssertNotCalled(t, "PublishFrame", mock.Anything, mock.Anything)
}

func TestQuotaFailureDoesNotBlockMessages(t *testing.T) {
	store := newMockStore()
	quota := new(mockQuota)
	store.On("UpdateMemberCount", "room-1", 1).Return(nil)
	quota.On("Allow", mock.Anything, mock.Anything).
		Return(ratelimit.Info{}, assert.AnError)

	saved := make(chan struct{}, 1)
	store.On("SaveMessage", mock.Anything).Run(func(mock.Arguments) {
		saved <- struct{}{}
	}).Return(nil)
	store.On("PublishFrame", mock.Anything, mock.Anything).Return(nil)

	h := startHub(t, store, quota)
	c := newFakeClient("u1", "ingrid", "room-1")
	h.RegisterCh <- c
	c.nextFrame(t)

	h.IncomingCh <- hub.Inbound{Client: c, Frame: models.Frame{Type: models.FrameMessage, Text: "still works"}}

	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Fatal("message was dropped when the quota backend failed")
	}
}

func TestTypingFanOutRestampsSender(t *testing.T) {
	store := newMockStore()
	store.On("UpdateMemberCount", "room-1", 1).Return(nil)

	published := make(chan models.Frame, 1)
	store.On("PublishFrame", "room-1", mock.Anything).Run(func(args mock.Arguments) {
		published <- args.Get(1).(models.Frame)
	}).Return(nil)

	h := startHub(t, store, new(mockQuota))
	c := newFakeClient("u1", "ingrid", "room-1")
	h.RegisterCh <- c
	c.nextFrame(t)

	// A client claiming to be somebody else.
	h.IncomingCh <- hub.Inbound{Client: c, Frame: models.Frame{
		Type:     models.FrameTyping,
		SenderID: "impostor",
		Data:     json.RawMessage(`{"isTyping":true}`),
	}}

	select {
	case f := <-published:
		assert.Equal(t, "u1", f.SenderID)
		assert.Equal(t, "ingrid", f.SenderNickname)
	case <-time.After(time.Second):
		t.Fatal("typing frame was never fanned out")
	}

	store.AssertNotCalled(t, "SaveMessage", mock.Anything)
}

func TestFanOutReachesLocalRoomMembersOnly(t *testing.T) {
	store := newMockStore()
	store.On("UpdateMemberCount", mock.Anything, 1).Return(nil)
	h := startHub(t, store, new(mockQuota))

	member := newFakeClient("u1", "ingrid", "room-1")
	outsider := newFakeClient("u2", "olaf", "room-2")
	h.RegisterCh <- member
	h.RegisterCh <- outsider
	member.nextFrame(t)
	outsider.nextFrame(t)

	frame := models.MessageFrame(models.Message{
		ID: "m-1", RoomID: "room-1", SenderID: "u9", Text: "hi", Kind: models.KindMessage, Timestamp: time.Now(),
	})
	payload, err := json.Marshal(frame)
	require.NoError(t, err)
	store.stream <- &redis.Message{Channel: "room:room-1", Payload: string(payload)}

	f := member.nextFrame(t)
	assert.Equal(t, "m-1", f.ID)
	assert.Empty(t, outsider.send, "other rooms must not see the frame")
}

func TestSlowClientIsDropped(t *testing.T) {
	store := newMockStore()
	store.On("UpdateMemberCount", "room-1", mock.Anything).Return(nil)
	h := startHub(t, store, new(mockQuota))

	c := newFakeClient("u1", "ingrid", "room-1")
	c.send = make(chan models.Frame) // unbuffered and never read
	h.RegisterCh <- c

	// The connection frame already finds the buffer full.
	require.Eventually(t, c.closed.Load, time.Second, 5*time.Millisecond)
	store.AssertCalled(t, "UpdateMemberCount", "room-1", -1)
}

package hub_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"

	"guildchat/realtime/internal/models"
	"guildchat/realtime/internal/ratelimit"
)

type mockStore struct {
	mock.Mock
	stream chan *redis.Message
}

func newMockStore() *mockStore {
	return &mockStore{stream: make(chan *redis.Message, 16)}
}

func (m *mockStore) SaveMessage(msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *mockStore) PublishFrame(roomID string, f models.Frame) error {
	args := m.Called(roomID, f)
	return args.Error(0)
}

func (m *mockStore) UpdateMemberCount(roomID string, delta int) error {
	args := m.Called(roomID, delta)
	return args.Error(0)
}

// FrameStream is backed by a plain channel so tests can inject fan-out
// traffic without a Redis server.
func (m *mockStore) FrameStream() <-chan *redis.Message { return m.stream }

type mockQuota struct {
	mock.Mock
}

func (m *mockQuota) Allow(ctx context.Context, key string) (ratelimit.Info, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(ratelimit.Info), args.Error(1)
}

type fakeClient struct {
	userID   string
	nickname string
	roomID   string
	send     chan models.Frame
	closed   atomic.Bool
}

func newFakeClient(userID, nickname, roomID string) *fakeClient {
	return &fakeClient{
		userID:   userID,
		nickname: nickname,
		roomID:   roomID,
		send:     make(chan models.Frame, 16),
	}
}

func (c *fakeClient) UserID() string                   { return c.userID }
func (c *fakeClient) Nickname() string                 { return c.nickname }
func (c *fakeClient) RoomID() string                   { return c.roomID }
func (c *fakeClient) SendChannel() chan<- models.Frame { return c.send }
func (c *fakeClient) Run()                             {}
func (c *fakeClient) Close()                           { c.closed.Store(true) }

func (c *fakeClient) nextFrame(t *testing.T) models.Frame {
	t.Helper()
	select {
	case f := <-c.send:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return models.Frame{}
	}
}

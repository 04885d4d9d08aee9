// Package hub routes frames between the clients of a room and the Redis
// fan-out shared by all broker nodes. All room membership mutations
// happen on the single Run goroutine.
package hub

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"guildchat/realtime/internal/models"
	"guildchat/realtime/internal/ratelimit"
)

// Client is one connected consumer, whatever its transport.
type Client interface {
	UserID() string
	Nickname() string
	RoomID() string

	// SendChannel is where the hub queues frames bound for this client.
	SendChannel() chan<- models.Frame

	Run()
	Close()
}

// Inbound pairs a decoded frame with the client that sent it.
type Inbound struct {
	Client Client
	Frame  models.Frame
}

// Quota is the server-side send budget check.
type Quota interface {
	Allow(ctx context.Context, key string) (ratelimit.Info, error)
}

// Store is the slice of the storage surface the hub needs.
type Store interface {
	SaveMessage(msg *models.Message) error
	PublishFrame(roomID string, f models.Frame) error
	FrameStream() <-chan *redis.Message
	UpdateMemberCount(roomID string, delta int) error
}

// Hub is the broker-side counterpart of the client transport.
type Hub struct {
	RegisterCh   chan Client
	UnregisterCh chan Client
	IncomingCh   chan Inbound

	storage  Store
	quota    Quota
	logger   zerolog.Logger
	pubSubCh chan models.Frame

	rooms map[string]map[Client]struct{}
}

// Config wires a Hub.
type Config struct {
	Storage Store
	Quota   Quota
	Logger  *zerolog.Logger
}

func New(cfg Config) *Hub {
	return &Hub{
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		IncomingCh:   make(chan Inbound, 64),
		storage:      cfg.Storage,
		quota:        cfg.Quota,
		logger:       cfg.Logger.With().Str("component", "hub").Logger(),
		pubSubCh:     make(chan models.Frame, 64),
		rooms:        make(map[string]map[Client]struct{}),
	}
}

// Run is the hub dispatcher. It owns all room state; nothing else may
// touch h.rooms.
func (h *Hub) Run(ctx context.Context) {
	go h.listenFrames(ctx)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.RegisterCh:
			h.register(c)
		case c := <-h.UnregisterCh:
			h.unregister(c)
		case in := <-h.IncomingCh:
			h.handleIncoming(ctx, in)
		case f := <-h.pubSubCh:
			h.broadcast(f)
		}
	}
}

func (h *Hub) register(c Client) {
	room := c.RoomID()
	clients, ok := h.rooms[room]
	if !ok {
		clients = make(map[Client]struct{})
		h.rooms[room] = clients
	}
	clients[c] = struct{}{}

	if err := h.storage.UpdateMemberCount(room, 1); err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("member count update failed")
	}
	h.send(c, models.Frame{Type: models.FrameConnection, RoomID: room, Message: "connected"})
	h.logger.Info().Str("room", room).Str("user", c.UserID()).Int("clients", len(clients)).Msg("client joined")
}

func (h *Hub) unregister(c Client) {
	room := c.RoomID()
	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, room)
	}
	c.Close()

	if err := h.storage.UpdateMemberCount(room, -1); err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("member count update failed")
	}
	h.logger.Info().Str("room", room).Str("user", c.UserID()).Msg("client left")
}

func (h *Hub) handleIncoming(ctx context.Context, in Inbound) {
	c, f := in.Client, in.Frame

	switch f.Type {
	case models.FrameMessage:
		h.handleMessage(ctx, c, f)

	case models.FrameTyping, models.FrameReadReceipt:
		// Best-effort fan-out, never persisted. Sender identity is
		// re-stamped so clients cannot impersonate each other.
		f.RoomID = c.RoomID()
		f.SenderID = c.UserID()
		f.SenderNickname = c.Nickname()
		if err := h.storage.PublishFrame(f.RoomID, f); err != nil {
			h.logger.Warn().Err(err).Str("type", f.Type).Msg("fan-out failed")
		}

	default:
		h.logger.Warn().Str("type", f.Type).Str("user", c.UserID()).Msg("dropping frame of unexpected type")
	}
}

func (h *Hub) handleMessage(ctx context.Context, c Client, f models.Frame) {
	room := c.RoomID()

	text := strings.TrimSpace(f.Text)
	if text == "" || len(text) > models.MaxMessageLength {
		h.send(c, models.Frame{Type: models.FrameError, RoomID: room, Message: "invalid message text"})
		return
	}

	info, err := h.quota.Allow(ctx, room+":"+c.UserID())
	if err != nil {
		// Quota backend trouble must not take messaging down.
		h.logger.Error().Err(err).Msg("quota check failed, allowing send")
	} else if info.IsLimited {
		h.send(c, rateLimitFrame(room, info))
		return
	}

	msg := models.Message{
		RoomID:         room,
		SenderID:       c.UserID(),
		SenderNickname: c.Nickname(),
		Text:           text,
		Kind:           models.KindMessage,
	}
	if err := h.storage.SaveMessage(&msg); err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("message save failed")
		h.send(c, models.Frame{Type: models.FrameError, RoomID: room, Message: "message not delivered"})
		return
	}
	if err := h.storage.PublishFrame(room, models.MessageFrame(msg)); err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("message fan-out failed")
	}
}

// broadcast delivers a frame from the fan-out to every local client of
// the room. A client whose send buffer is full is dropped rather than
// allowed to stall the dispatcher.
func (h *Hub) broadcast(f models.Frame) {
	for c := range h.rooms[f.RoomID] {
		select {
		case c.SendChannel() <- f:
		default:
			h.logger.Warn().Str("user", c.UserID()).Msg("send buffer full, dropping client")
			h.unregister(c)
		}
	}
}

func (h *Hub) send(c Client, f models.Frame) {
	select {
	case c.SendChannel() <- f:
	default:
		h.logger.Warn().Str("user", c.UserID()).Msg("send buffer full, dropping client")
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	for _, clients := range h.rooms {
		for c := range clients {
			c.Close()
		}
	}
	h.rooms = make(map[string]map[Client]struct{})
}

// listenFrames pumps the cross-node fan-out into the dispatcher.
func (h *Hub) listenFrames(ctx context.Context) {
	stream := h.storage.FrameStream()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			f, err := models.DecodeFrame([]byte(msg.Payload))
			if err != nil {
				h.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed fan-out frame")
				continue
			}
			select {
			case h.pubSubCh <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

func rateLimitFrame(roomID string, info ratelimit.Info) models.Frame {
	data, _ := json.Marshal(models.RateLimitPayload{
		Limit:     info.Limit,
		Remaining: info.Remaining,
		ResetAt:   info.ResetAt.UnixMilli(),
	})
	return models.Frame{Type: models.FrameRateLimit, RoomID: roomID, Data: data}
}

package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"guildchat/realtime/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	userID   string
	nickname string
	roomID   string
	conn     *websocket.Conn
	hub      *Hub
	send     chan models.Frame
	logger   zerolog.Logger
	once     sync.Once
}

func NewWebSocketClient(h *Hub, conn *websocket.Conn, userID, nickname, roomID string, logger *zerolog.Logger) *WebSocketClient {
	return &WebSocketClient{
		userID:   userID,
		nickname: nickname,
		roomID:   roomID,
		conn:     conn,
		hub:      h,
		send:     make(chan models.Frame, sendBufferSize),
		logger:   logger.With().Str("component", "ws-client").Str("user", userID).Logger(),
	}
}

func (c *WebSocketClient) UserID() string                   { return c.userID }
func (c *WebSocketClient) Nickname() string                 { return c.nickname }
func (c *WebSocketClient) RoomID() string                   { return c.roomID }
func (c *WebSocketClient) SendChannel() chan<- models.Frame { return c.send }

// Run starts the read and write pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close shuts the send channel, which stops the write pump and closes
// the connection. Safe to call more than once.
func (c *WebSocketClient) Close() {
	c.once.Do(func() { close(c.send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.UnregisterCh <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}

		f, err := models.DecodeFrame(raw)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		// The socket, not the frame, is the source of truth for identity
		// and room.
		f.RoomID = c.roomID
		f.SenderID = c.userID
		f.SenderNickname = c.nickname

		c.hub.IncomingCh <- Inbound{Client: c, Frame: f}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

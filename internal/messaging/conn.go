package messaging

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"guildchat/realtime/internal/models"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 20 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 8192
	handshakeTimeout = 10 * time.Second
)

// Conn is one live frame connection. It abstracts the websocket so the
// transport state machine is testable without a socket.
type Conn interface {
	// ReadFrame blocks for the next inbound frame. A models.ErrMalformedFrame
	// error is recoverable; any other error means the connection is dead.
	ReadFrame() (models.Frame, error)
	WriteFrame(models.Frame) error
	Ping() error
	Close() error
}

// Dialer opens a Conn to a room with a bearer token attached.
type Dialer interface {
	DialContext(ctx context.Context, roomID, token string) (Conn, error)
}

type wsDialer struct {
	baseURL string
}

// NewWSDialer returns the production websocket Dialer for the given base
// URL (ws:// or wss://).
func NewWSDialer(baseURL string) Dialer {
	return &wsDialer{baseURL: baseURL}
}

func (d *wsDialer) DialContext(ctx context.Context, roomID, token string) (Conn, error) {
	u := d.baseURL + "/ws?room=" + url.QueryEscape(roomID)
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Join(ErrAuthRejected, err)
		}
		return nil, errors.Join(ErrHandshakeFailed, err)
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadFrame() (models.Frame, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return models.Frame{}, errors.Join(ErrHeartbeatTimeout, err)
		}
		return models.Frame{}, err
	}
	return models.DecodeFrame(raw)
}

func (c *wsConn) WriteFrame(f models.Frame) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Ping() error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) Close() error {
	// WriteControl is safe concurrently with the write pump.
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

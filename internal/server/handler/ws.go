package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"guildchat/realtime/internal/server/hub"
	"guildchat/realtime/internal/server/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the web client's domain is fixed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates the caller, checks the requested room
// and upgrades the connection. Auth and room errors are reported before
// the upgrade so clients see a plain HTTP status.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID, nickname, ok := h.identity(c)
	if !ok {
		return
	}

	roomID := c.Query("room")
	if roomID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room query parameter missing"})
		return
	}
	if _, err := h.Storage.GetRoom(roomID); err != nil {
		if errors.Is(err, storage.ErrRoomNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		h.Logger.Error().Err(err).Str("room", roomID).Msg("room lookup failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewWebSocketClient(h.Hub, conn, userID, nickname, roomID, &h.Logger)
	h.Hub.RegisterCh <- client
	client.Run()
}

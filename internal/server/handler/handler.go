// Package handler exposes the broker's HTTP surface: token issuance,
// room listing, history pagination and the websocket upgrade.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"guildchat/realtime/internal/server/hub"
	"guildchat/realtime/internal/server/storage"
)

type Handler struct {
	Hub     *hub.Hub
	Storage storage.Storage
	Auth    *TokenIssuer
	Logger  zerolog.Logger
}

func New(h *hub.Hub, store storage.Storage, auth *TokenIssuer, logger *zerolog.Logger) *Handler {
	return &Handler{
		Hub:     h,
		Storage: store,
		Auth:    auth,
		Logger:  logger.With().Str("component", "handler").Logger(),
	}
}

// Routes registers every endpoint on the router.
func (h *Handler) Routes(r *gin.Engine) {
	r.POST("/token", h.IssueToken)
	r.GET("/rooms", h.ListRooms)
	r.GET("/rooms/:id/history", h.GetRoomHistory)
	r.GET("/ws", h.ServeWebSocket)
}

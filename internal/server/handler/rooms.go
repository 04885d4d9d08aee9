package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"guildchat/realtime/internal/server/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

type roomResponse struct {
	RoomID      string `json:"roomId"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

// ListRooms returns every room known to the broker.
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Storage.ListRooms()
	if err != nil {
		h.Logger.Error().Err(err).Msg("room listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}

	out := make([]roomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomResponse{
			RoomID:      r.RoomID,
			Kind:        r.Kind,
			Name:        r.Name,
			MemberCount: r.MemberCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

// GetRoomHistory serves one backward page of a room's messages. The
// `before` query parameter is the opaque cursor from a previous page;
// absent, the page starts at the newest message.
func (h *Handler) GetRoomHistory(c *gin.Context) {
	if _, _, ok := h.identity(c); !ok {
		return
	}

	roomID := c.Param("id")
	if _, err := h.Storage.GetRoom(roomID); err != nil {
		if errors.Is(err, storage.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		h.Logger.Error().Err(err).Str("room", roomID).Msg("room lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	page, err := h.Storage.GetRoomHistory(roomID, c.Query("before"), limit)
	if err != nil {
		if errors.Is(err, storage.ErrBadCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed history cursor"})
			return
		}
		h.Logger.Error().Err(err).Str("room", roomID).Msg("history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":  page.Messages,
		"hasMore":   page.HasMore,
		"nextToken": page.NextToken,
	})
}

package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guildchat/realtime/internal/models"
)

var ErrBadCursor = errors.New("malformed history cursor")

// GetRoomHistory returns one backward page of messages strictly older
// than the cursor position, oldest first within the page. An empty
// cursor starts from the newest message. NextToken points at the oldest
// message of the returned page.
func (s *Service) GetRoomHistory(roomID, before string, limit int) (models.HistoryPage, error) {
	query := s.DB.Where("room_id = ?", roomID)
	if before != "" {
		ts, id, err := decodeCursor(before)
		if err != nil {
			return models.HistoryPage{}, err
		}
		// Tuple comparison breaks timestamp ties deterministically.
		query = query.Where("(created_at, id) < (?, ?)", ts, id)
	}

	var records []models.MessageRecord
	// One extra row decides hasMore without a second query.
	err := query.Order("created_at desc, id desc").Limit(limit + 1).Find(&records).Error
	if err != nil {
		return models.HistoryPage{}, err
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	page := models.HistoryPage{HasMore: hasMore}
	for i := len(records) - 1; i >= 0; i-- {
		page.Messages = append(page.Messages, records[i].Message())
	}
	if hasMore && len(records) > 0 {
		oldest := records[len(records)-1]
		page.NextToken = encodeCursor(oldest.CreatedAt, oldest.ID)
	}
	return page, nil
}

// The cursor is opaque to clients: base64 over "<unix-micros>|<id>".
func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", ts.UnixMicro(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(token string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", errors.Join(ErrBadCursor, err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", ErrBadCursor
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", errors.Join(ErrBadCursor, err)
	}
	return time.UnixMicro(micros), parts[1], nil
}

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"guildchat/realtime/internal/models"
)

// HistoryFetcher loads one backward page of room history. before is the
// opaque cursor from the previous page; empty means "newest page".
type HistoryFetcher interface {
	Fetch(ctx context.Context, roomID, before string, limit int) (models.HistoryPage, error)
}

type httpHistory struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// NewHTTPHistory returns the production HistoryFetcher talking to the
// history endpoint at baseURL.
func NewHTTPHistory(baseURL string, tokens TokenSource) HistoryFetcher {
	return &httpHistory{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *httpHistory) Fetch(ctx context.Context, roomID, before string, limit int) (models.HistoryPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}
	u := fmt.Sprintf("%s/rooms/%s/history?%s", h.baseURL, url.PathEscape(roomID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.HistoryPage{}, err
	}
	token, err := h.tokens.Token(ctx)
	if err != nil {
		return models.HistoryPage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.client.Do(req)
	if err != nil {
		return models.HistoryPage{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.HistoryPage{}, ErrAuthRejected
	default:
		return models.HistoryPage{}, fmt.Errorf("history endpoint: unexpected status %d", resp.StatusCode)
	}

	var page models.HistoryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return models.HistoryPage{}, fmt.Errorf("history endpoint: decode: %w", err)
	}
	return page, nil
}

package messaging

import (
	"sync"

	"guildchat/realtime/internal/models"
)

// Store holds the ordered message log for the active room plus the
// backward pagination cursor. Live appends only ever extend the tail and
// page loads only ever extend the head, so the two never corrupt each
// other's positions.
type Store struct {
	mu     sync.Mutex
	roomID string

	order []string
	byID  map[string]models.Message

	nextToken     string
	hasMore       bool
	discontinuous bool
}

// NewStore creates an empty store for a room.
func NewStore(roomID string) *Store {
	return &Store{
		roomID:  roomID,
		byID:    make(map[string]models.Message),
		hasMore: true,
	}
}

// Append adds a live inbound message at the tail. Duplicates (same ID
// already present) are dropped silently, since a reconnect can replay a
// tail of recently delivered frames. Returns false for duplicates and
// messages for another room.
func (s *Store) Append(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.RoomID != s.roomID {
		return false
	}
	if _, ok := s.byID[msg.ID]; ok {
		return false
	}
	s.byID[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	return true
}

// PrependPage inserts one backward page of older history at the head and
// replaces the cursor atomically. Messages already present are skipped.
// Page order is preserved (oldest first within the page).
func (s *Store) PrependPage(page models.HistoryPage) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []string
	for _, msg := range page.Messages {
		if msg.RoomID != s.roomID {
			continue
		}
		if _, ok := s.byID[msg.ID]; ok {
			continue
		}
		s.byID[msg.ID] = msg
		fresh = append(fresh, msg.ID)
	}
	s.order = append(fresh, s.order...)

	s.nextToken = page.NextToken
	s.hasMore = page.HasMore
	return len(fresh)
}

// Messages returns a copy of the log in order.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Len reports the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Cursor returns the pagination cursor for the next backward page.
func (s *Store) Cursor() (nextToken string, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextToken, s.hasMore
}

// MarkDiscontinuous records that messages may have been missed while the
// transport was down and invalidates the backward cursor, forcing a
// fresh page request instead of trusting the stale token.
func (s *Store) MarkDiscontinuous() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discontinuous = true
	s.nextToken = ""
	s.hasMore = true
}

// Discontinuous reports whether the log may have a gap.
func (s *Store) Discontinuous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discontinuous
}

// Clear drops all messages and resets the cursor, keeping the room.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[string]models.Message)
	s.nextToken = ""
	s.hasMore = true
	s.discontinuous = false
}

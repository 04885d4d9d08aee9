package models

import (
	"time"
)

// MessageKind is the kind of a delivered chat message.
type MessageKind string

const (
	KindMessage   MessageKind = "message"
	KindBroadcast MessageKind = "broadcast"
	KindSystem    MessageKind = "system"
)

// MaxMessageLength mirrors the server-side text limit so clients can
// reject overlong messages without a round trip.
const MaxMessageLength = 2000

// Message is an immutable fact once delivered: the ID is assigned by the
// server and is unique within the room, and timestamps are non-decreasing
// per room in the delivered stream.
type Message struct {
	ID             string      `json:"id"`
	RoomID         string      `json:"roomId"`
	SenderID       string      `json:"senderId"`
	SenderNickname string      `json:"senderNickname,omitempty"`
	Text           string      `json:"text"`
	Timestamp      time.Time   `json:"timestamp"`
	Kind           MessageKind `json:"kind"`
}

// MessageRecord is the persisted form of a Message.
type MessageRecord struct {
	ID             string `gorm:"primaryKey;type:uuid"`
	RoomID         string `gorm:"type:uuid;not null;index:idx_room_msg,priority:1"`
	SenderID       string `gorm:"type:text;not null"`
	SenderNickname string `gorm:"type:text"`
	Text           string `gorm:"type:text;not null"`
	Kind           string `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"index:idx_room_msg,priority:2"`
}

// Message converts the record into its wire form.
func (m *MessageRecord) Message() Message {
	return Message{
		ID:             m.ID,
		RoomID:         m.RoomID,
		SenderID:       m.SenderID,
		SenderNickname: m.SenderNickname,
		Text:           m.Text,
		Timestamp:      m.CreatedAt,
		Kind:           MessageKind(m.Kind),
	}
}

// HistoryPage is one backward page of room history as served by the
// history endpoint. NextToken is opaque to the client.
type HistoryPage struct {
	Messages  []Message `json:"messages"`
	HasMore   bool      `json:"hasMore"`
	NextToken string    `json:"nextToken,omitempty"`
}

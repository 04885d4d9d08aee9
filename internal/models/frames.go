package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Frame types carried over the room websocket. Every frame is one JSON
// object discriminated by Type.
const (
	FrameMessage     = "message"
	FrameTyping      = "typing"
	FrameError       = "error"
	FrameSystem      = "system"
	FrameConnection  = "connection"
	FrameRateLimit   = "rate_limit"
	FrameReadReceipt = "read_receipt"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one discrete unit of data exchanged over the persistent
// connection. Fields are populated according to Type; Data carries
// type-specific payloads (typing, rate_limit).
type Frame struct {
	Type           string          `json:"type"`
	ID             string          `json:"id,omitempty"`
	RoomID         string          `json:"roomId,omitempty"`
	SenderID       string          `json:"senderId,omitempty"`
	SenderNickname string          `json:"senderNickname,omitempty"`
	Text           string          `json:"text,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	Message        string          `json:"message,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// TypingPayload rides in the Data field of typing frames.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// RateLimitPayload rides in the Data field of rate_limit frames sent when
// the server denies a send.
type RateLimitPayload struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetAt   int64 `json:"resetAt"`
}

// DecodeFrame parses raw wire bytes into a Frame, rejecting frames
// without a type discriminator.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, errors.Join(ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, ErrMalformedFrame
	}
	return f, nil
}

// ChatMessage extracts the Message carried by a message frame.
func (f Frame) ChatMessage() (Message, error) {
	if f.Type != FrameMessage || f.ID == "" || f.RoomID == "" {
		return Message{}, ErrMalformedFrame
	}
	kind := MessageKind(f.Kind)
	if kind == "" {
		kind = KindMessage
	}
	return Message{
		ID:             f.ID,
		RoomID:         f.RoomID,
		SenderID:       f.SenderID,
		SenderNickname: f.SenderNickname,
		Text:           f.Text,
		Timestamp:      time.UnixMilli(f.Timestamp),
		Kind:           kind,
	}, nil
}

// MessageFrame builds the wire frame for a delivered chat message.
func MessageFrame(msg Message) Frame {
	return Frame{
		Type:           FrameMessage,
		ID:             msg.ID,
		RoomID:         msg.RoomID,
		SenderID:       msg.SenderID,
		SenderNickname: msg.SenderNickname,
		Text:           msg.Text,
		Timestamp:      msg.Timestamp.UnixMilli(),
		Kind:           string(msg.Kind),
	}
}

// TypingFrame builds the wire frame for a typing signal.
func TypingFrame(roomID, senderID, nickname string, isTyping bool) Frame {
	data, _ := json.Marshal(TypingPayload{IsTyping: isTyping})
	return Frame{
		Type:           FrameTyping,
		RoomID:         roomID,
		SenderID:       senderID,
		SenderNickname: nickname,
		Data:           data,
	}
}

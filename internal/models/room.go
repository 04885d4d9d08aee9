package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// RoomKind distinguishes the shared general room from guild-scoped rooms.
type RoomKind string

const (
	RoomGeneral RoomKind = "general"
	RoomGuild   RoomKind = "guild"
)

// Room identifies a communication channel. Rooms are created server-side
// (the general room at startup, guild rooms when a guild is created); the
// client only ever reads them.
type Room struct {
	ID          string   `json:"id"`
	Kind        RoomKind `json:"kind"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	MemberCount int      `json:"memberCount"`
}

// RoomRecord is the persisted form of a Room.
type RoomRecord struct {
	RoomID      string         `gorm:"primaryKey;type:uuid" json:"id"`
	Kind        string         `gorm:"type:text;not null;index"`
	Name        string         `gorm:"type:text"`
	Description string         `gorm:"type:text"`
	Tags        pq.StringArray `gorm:"type:text[]"`
	MemberCount int
	CreatedAt   time.Time
}

// BeforeCreate generates a RoomID if one was not assigned.
func (r *RoomRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.RoomID == "" {
		r.RoomID = uuid.New().String()
	}
	return
}

// Room converts the record into its wire form.
func (r *RoomRecord) Room() Room {
	return Room{
		ID:          r.RoomID,
		Kind:        RoomKind(r.Kind),
		Name:        r.Name,
		Description: r.Description,
		MemberCount: r.MemberCount,
	}
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"guildchat/realtime/internal/models"
)

// GeneralRoomName is the display name of the room provisioned at startup.
const GeneralRoomName = "General"

var ErrRoomNotFound = errors.New("room not found")

// Storage is the persistence surface the hub and handlers depend on.
type Storage interface {
	EnsureGeneralRoom() (*models.RoomRecord, error)
	CreateGuildRoom(name, description string, tags []string) (*models.RoomRecord, error)
	GetRoom(roomID string) (*models.RoomRecord, error)
	ListRooms() ([]models.RoomRecord, error)
	UpdateMemberCount(roomID string, delta int) error

	SaveMessage(msg *models.Message) error
	GetRoomHistory(roomID, before string, limit int) (models.HistoryPage, error)

	PublishFrame(roomID string, f models.Frame) error
	FrameStream() <-chan *redis.Message
}

// Service persists rooms and messages in PostgreSQL and fans frames out
// across broker nodes through Redis pub/sub.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
}

func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
	}
}

// EnsureGeneralRoom provisions the single general room if missing.
func (s *Service) EnsureGeneralRoom() (*models.RoomRecord, error) {
	var room models.RoomRecord
	err := s.DB.Where("kind = ?", string(models.RoomGeneral)).First(&room).Error
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	room = models.RoomRecord{
		Kind:      string(models.RoomGeneral),
		Name:      GeneralRoomName,
		CreatedAt: time.Now(),
	}
	if err := s.DB.Create(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateGuildRoom provisions a guild room. Called when a guild is
// created; the messaging clients never create rooms themselves.
func (s *Service) CreateGuildRoom(name, description string, tags []string) (*models.RoomRecord, error) {
	room := models.RoomRecord{
		Kind:        string(models.RoomGuild),
		Name:        name,
		Description: description,
		Tags:        tags,
		CreatedAt:   time.Now(),
	}
	if err := s.DB.Create(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Service) GetRoom(roomID string) (*models.RoomRecord, error) {
	var room models.RoomRecord
	err := s.DB.Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Service) ListRooms() ([]models.RoomRecord, error) {
	var rooms []models.RoomRecord
	if err := s.DB.Order("created_at asc").Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// UpdateMemberCount adjusts the live member counter, clamped at zero.
func (s *Service) UpdateMemberCount(roomID string, delta int) error {
	return s.DB.Model(&models.RoomRecord{}).
		Where("room_id = ?", roomID).
		Update("member_count", gorm.Expr("GREATEST(member_count + ?, 0)", delta)).Error
}

// SaveMessage persists a message, assigning its server-side ID and
// timestamp. The populated fields are written back so the message can be
// published to subscribers immediately.
func (s *Service) SaveMessage(msg *models.Message) error {
	record := models.MessageRecord{
		ID:             uuid.New().String(),
		RoomID:         msg.RoomID,
		SenderID:       msg.SenderID,
		SenderNickname: msg.SenderNickname,
		Text:           msg.Text,
		Kind:           string(msg.Kind),
	}
	if err := s.DB.Create(&record).Error; err != nil {
		return err
	}
	msg.ID = record.ID
	msg.Timestamp = record.CreatedAt
	return nil
}

// PublishFrame broadcasts a frame to every broker node subscribed to the
// room channel.
func (s *Service) PublishFrame(roomID string, f models.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.Redis.Publish(s.Ctx, frameChannel(roomID), payload).Err()
}

// FrameStream subscribes to the frame channels of all rooms and returns
// the merged message stream.
func (s *Service) FrameStream() <-chan *redis.Message {
	return s.Redis.PSubscribe(s.Ctx, "room:*").Channel()
}

func frameChannel(roomID string) string {
	return "room:" + roomID
}

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	UserTypeConsumer = "consumer"
	UserTypeSupport  = "support"
)

const (
	RoomTypeGroup              = "group"
	RoomTypeConsumerToConsumer = "consumer-to-consumer"
	RoomTypeConsumerToSupport  = "consumer-to-support"
)

const MessageTypeText = "text"

type User struct {
	ID           string `gorm:"primaryKey;size:32"`
	FirstName    string `gorm:"size:64;not null"`
	LastName     string `gorm:"size:64"`
	Type         string `gorm:"size:16;not null;default:consumer"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	ID            string `gorm:"primaryKey;size:32"`
	Name          string `gorm:"size:128"`
	Type          string `gorm:"size:32;not null;index"`
	ChatInitiator string `gorm:"size:32;not null"`
	// 只有固定类型房间设置 MemberKey；NULL 之间不冲突。
	MemberKey *string      `gorm:"uniqueIndex"`
	Members   []RoomMember `gorm:"foreignKey:RoomID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserIDs 按加入顺序返回成员 id，Members 需按 position 排序加载。
func (r *Room) UserIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

type RoomMember struct {
	RoomID   string `gorm:"primaryKey;size:32"`
	UserID   string `gorm:"primaryKey;size:32;index"`
	Position int    `gorm:"not null"`
	JoinedAt time.Time
}

type MessageData struct {
	MessageText string `json:"messageText"`
}

type Message struct {
	ID           string                          `gorm:"primaryKey;size:32"`
	RoomID       string                          `gorm:"size:32;not null;index:idx_msg_room_created,priority:1"`
	PostedBy     string                          `gorm:"size:32;not null;index"`
	Type         string                          `gorm:"size:16;not null;default:text"`
	Payload      datatypes.JSONType[MessageData] `gorm:"not null"`
	Author       *User                           `gorm:"foreignKey:PostedBy"`
	ReadReceipts []ReadReceipt                   `gorm:"foreignKey:MessageID"`
	CreatedAt    time.Time                       `gorm:"index:idx_msg_room_created,priority:2"`
	UpdatedAt    time.Time
}

// ReadReceipt 组成消息的已读集合，联合主键保证重复标记幂等。
type ReadReceipt struct {
	MessageID string    `gorm:"primaryKey;size:32"`
	UserID    string    `gorm:"primaryKey;size:32;index"`
	ReadAt    time.Time `gorm:"not null"`
	Reader    *User     `gorm:"foreignKey:UserID"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:32;index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// NewID 返回 32 位十六进制随机 id（去掉连字符的 UUID）。
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

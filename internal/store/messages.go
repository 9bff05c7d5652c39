package store

import (
	"context"
	"fmt"
	"time"

	"chatserver/internal/models"
	"chatserver/internal/pagination"

	"gorm.io/gorm"
)

// MessageStore 负责消息与已读回执的持久化，以及会话查询。
type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

func receiptsInOrder(db *gorm.DB) *gorm.DB {
	return db.Order("read_at asc, user_id asc")
}

// Create 原子地写入消息与作者自己的已读回执。
func (s *MessageStore) Create(ctx context.Context, m *models.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Author", "ReadReceipts").Create(m).Error; err != nil {
			return err
		}
		rr := models.ReadReceipt{MessageID: m.ID, UserID: m.PostedBy, ReadAt: m.CreatedAt}
		if err := tx.Omit("Reader").Create(&rr).Error; err != nil {
			return err
		}
		m.ReadReceipts = []models.ReadReceipt{rr}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create message: %w", translate(err))
	}
	return nil
}

func (s *MessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := s.db.WithContext(ctx).
		Preload("Author").
		Preload("ReadReceipts", receiptsInOrder).
		Preload("ReadReceipts.Reader").
		First(&m, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// MarkRead 为房间内 userID 尚未读过的消息补上回执，返回新增数量。
func (s *MessageStore) MarkRead(ctx context.Context, roomID, userID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO read_receipts (message_id, user_id, read_at)
		 SELECT m.id, ?, ? FROM messages m
		 WHERE m.room_id = ?
		   AND NOT EXISTS (SELECT 1 FROM read_receipts r WHERE r.message_id = m.id AND r.user_id = ?)
		 ON CONFLICT DO NOTHING`,
		userID, at, roomID, userID)
	if res.Error != nil {
		return 0, fmt.Errorf("mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ByRooms 返回 roomIDs 内的一页消息（旧的在前，带作者与回执）以及总数。
func (s *MessageStore) ByRooms(ctx context.Context, roomIDs []string, spec pagination.QuerySpec) ([]models.Message, int64, error) {
	msgs := []models.Message{}
	if len(roomIDs) == 0 {
		return msgs, 0, nil
	}
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Message{}).Where("room_id IN ?", roomIDs)
	}
	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	if spec.Empty || total == 0 {
		return msgs, total, nil
	}
	err := base().
		Preload("Author").
		Preload("ReadReceipts", receiptsInOrder).
		Order("created_at asc, id asc").
		Scopes(paginate(spec)).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("messages by rooms: %w", err)
	}
	return msgs, total, nil
}

const latestOnly = `NOT EXISTS (
	SELECT 1 FROM messages n WHERE n.room_id = messages.room_id
	AND (n.created_at > messages.created_at OR (n.created_at = messages.created_at AND n.id > messages.id)))`

// LatestByRooms 返回每个房间的最后一条消息，新的在前；总数为有消息的房间数。
func (s *MessageStore) LatestByRooms(ctx context.Context, roomIDs []string, spec pagination.QuerySpec) ([]models.Message, int64, error) {
	msgs := []models.Message{}
	if len(roomIDs) == 0 {
		return msgs, 0, nil
	}
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Message{}).
			Where("messages.room_id IN ?", roomIDs).
			Where(latestOnly)
	}
	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}
	if spec.Empty || total == 0 {
		return msgs, total, nil
	}
	err := base().
		Preload("Author").
		Preload("ReadReceipts", receiptsInOrder).
		Preload("ReadReceipts.Reader").
		Order("messages.created_at desc, messages.id desc").
		Scopes(paginate(spec)).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("latest messages: %w", err)
	}
	return msgs, total, nil
}

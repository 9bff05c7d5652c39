package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatserver/internal/models"
	"chatserver/internal/pagination"

	"gorm.io/gorm"
)

// RoomStore 负责房间及其有序成员集合的持久化。
type RoomStore struct {
	db *gorm.DB
}

func NewRoomStore(db *gorm.DB) *RoomStore {
	return &RoomStore{db: db}
}

func membersInOrder(db *gorm.DB) *gorm.DB {
	return db.Order("position asc")
}

// Create 在一个事务中写入房间与初始成员，member key 冲突返回 ErrMemberKeyTaken。
func (s *RoomStore) Create(ctx context.Context, room *models.Room, userIDs []string, at time.Time) error {
	room.Members = make([]models.RoomMember, 0, len(userIDs))
	for i, uid := range userIDs {
		room.Members = append(room.Members, models.RoomMember{RoomID: room.ID, UserID: uid, Position: i + 1, JoinedAt: at})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(room).Error
	})
	if err != nil {
		if errors.Is(translate(err), ErrDuplicate) && room.MemberKey != nil {
			return ErrMemberKeyTaken
		}
		return fmt.Errorf("create room: %w", translate(err))
	}
	return nil
}

func (s *RoomStore) Get(ctx context.Context, id string) (*models.Room, error) {
	return getRoom(s.db.WithContext(ctx), "id = ?", id)
}

func (s *RoomStore) ByMemberKey(ctx context.Context, key string) (*models.Room, error) {
	return getRoom(s.db.WithContext(ctx), "member_key = ?", key)
}

func getRoom(db *gorm.DB, query string, arg string) (*models.Room, error) {
	var room models.Room
	if err := db.Preload("Members", membersInOrder).First(&room, query, arg).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

// ByUser 返回 userID 所在的房间，最近活跃的在前。
func (s *RoomStore) ByUser(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id AND room_members.user_id = ?", userID).
		Preload("Members", membersInOrder).
		Order("rooms.updated_at desc, rooms.id asc").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("rooms by user: %w", err)
	}
	return rooms, nil
}

// List 按创建顺序返回一页房间及总数。
func (s *RoomStore) List(ctx context.Context, spec pagination.QuerySpec) ([]models.Room, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Room{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count rooms: %w", err)
	}
	rooms := []models.Room{}
	if spec.Empty || total == 0 {
		return rooms, total, nil
	}
	err := s.db.WithContext(ctx).
		Scopes(paginate(spec)).
		Preload("Members", membersInOrder).
		Order("created_at asc, id asc").
		Find(&rooms).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, total, nil
}

// AddMember 把 userID 追加到成员集合末尾。
func (s *RoomStore) AddMember(ctx context.Context, roomID, userID string, at time.Time) (*models.Room, error) {
	var out *models.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := getRoom(tx, "id = ?", roomID)
		if err != nil {
			return err
		}
		for _, m := range room.Members {
			if m.UserID == userID {
				return ErrMemberExists
			}
		}
		pos := 1
		if n := len(room.Members); n > 0 {
			pos = room.Members[n-1].Position + 1
		}
		member := models.RoomMember{RoomID: roomID, UserID: userID, Position: pos, JoinedAt: at}
		if err := tx.Create(&member).Error; err != nil {
			if errors.Is(translate(err), ErrDuplicate) {
				return ErrMemberExists
			}
			return err
		}
		room.Members = append(room.Members, member)
		if err := touch(tx, room, at); err != nil {
			return err
		}
		out = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveMember 从成员集合中移除 userID。
func (s *RoomStore) RemoveMember(ctx context.Context, roomID, userID string, at time.Time) (*models.Room, error) {
	var out *models.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := getRoom(tx, "id = ?", roomID)
		if err != nil {
			return err
		}
		res := tx.Delete(&models.RoomMember{}, "room_id = ? AND user_id = ?", roomID, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotMember
		}
		kept := room.Members[:0]
		for _, m := range room.Members {
			if m.UserID != userID {
				kept = append(kept, m)
			}
		}
		room.Members = kept
		if err := touch(tx, room, at); err != nil {
			return err
		}
		out = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// touch 更新 updated_at；固定类型房间按当前成员重新计算 member key，少于两人时清空。
// 新 key 已被其他房间占用时也清空：那个房间才是该成员集合的规范房间，成员变更本身不因此失败。
func touch(tx *gorm.DB, room *models.Room, at time.Time) error {
	updates := map[string]any{"updated_at": at}
	if room.MemberKey != nil || room.Type != models.RoomTypeGroup {
		room.MemberKey = nil
		if ids := room.UserIDs(); len(ids) >= 2 {
			key := MemberKey(room.Type, ids)
			var taken int64
			if err := tx.Model(&models.Room{}).Where("member_key = ? AND id <> ?", key, room.ID).Count(&taken).Error; err != nil {
				return err
			}
			if taken == 0 {
				room.MemberKey = &key
			}
		}
		updates["member_key"] = room.MemberKey
	}
	if err := tx.Model(&models.Room{}).Where("id = ?", room.ID).Updates(updates).Error; err != nil {
		if errors.Is(translate(err), ErrDuplicate) {
			return ErrMemberKeyTaken
		}
		return err
	}
	room.UpdatedAt = at
	return nil
}

package service

import (
	"context"
	"time"

	"chatserver/internal/models"
	"chatserver/internal/pagination"
)

// 以下接口是业务层依赖的文档存储，由 internal/store 基于 gorm 实现。

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	ByIDs(ctx context.Context, ids []string) ([]models.User, error)
	Delete(ctx context.Context, id string) (int64, error)
}

type RoomStore interface {
	Create(ctx context.Context, room *models.Room, userIDs []string, at time.Time) error
	Get(ctx context.Context, id string) (*models.Room, error)
	ByMemberKey(ctx context.Context, key string) (*models.Room, error)
	ByUser(ctx context.Context, userID string) ([]models.Room, error)
	List(ctx context.Context, spec pagination.QuerySpec) ([]models.Room, int64, error)
	AddMember(ctx context.Context, roomID, userID string, at time.Time) (*models.Room, error)
	RemoveMember(ctx context.Context, roomID, userID string, at time.Time) (*models.Room, error)
}

type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	MarkRead(ctx context.Context, roomID, userID string, at time.Time) (int64, error)
	ByRooms(ctx context.Context, roomIDs []string, spec pagination.QuerySpec) ([]models.Message, int64, error)
	LatestByRooms(ctx context.Context, roomIDs []string, spec pagination.QuerySpec) ([]models.Message, int64, error)
}

// ProfileCache 是可选的用户资料缓存（Redis 实现见 internal/cache）。
type ProfileCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// OnlineCounter 返回房间当前的在线连接数。
type OnlineCounter interface {
	Online(roomID string) int
}

// Publisher 把房间事件推送给订阅者。
type Publisher interface {
	Publish(roomID, event string, data any)
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatserver/internal/models"
	"chatserver/internal/pagination"
	"chatserver/internal/store"
)

// RoomService 是房间注册表：创建、查询房间以及持久化的成员变更。
type RoomService struct {
	rooms  RoomStore
	online OnlineCounter
	now    func() time.Time
}

// NewRoomService 创建房间服务；online 为 nil 时在线人数恒为 0。
func NewRoomService(rooms RoomStore, online OnlineCounter) *RoomService {
	return &RoomService{rooms: rooms, online: online, now: func() time.Time { return time.Now().UTC() }}
}

func (s *RoomService) view(r *models.Room) RoomView {
	n := 0
	if s.online != nil {
		n = s.online.Online(r.ID)
	}
	return roomView(r, n)
}

// Create 以 initiator 为唯一成员创建群聊房间。
func (s *RoomService) Create(ctx context.Context, name, initiator string) (*RoomView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("room name is required")
	}
	if initiator == "" {
		return nil, ErrUnauthorized
	}
	now := s.now()
	room := models.Room{ID: models.NewID(), Name: name, Type: models.RoomTypeGroup, ChatInitiator: initiator, CreatedAt: now, UpdatedAt: now}
	if err := s.rooms.Create(ctx, &room, []string{initiator}, now); err != nil {
		return nil, wrapStore("create room", err)
	}
	v := s.view(&room)
	return &v, nil
}

func fixedType(t string) bool {
	return t == models.RoomTypeConsumerToConsumer || t == models.RoomTypeConsumerToSupport
}

// Initiate 返回 userIDs 与 initiator 组成的固定类型房间；同一成员集合与类型只会有一个房间。
func (s *RoomService) Initiate(ctx context.Context, userIDs []string, roomType, initiator string) (*InitiateResult, error) {
	if initiator == "" {
		return nil, ErrUnauthorized
	}
	if !fixedType(roomType) {
		return nil, invalid("unknown chat type %q", roomType)
	}
	if len(userIDs) == 0 {
		return nil, invalid("userIds must not be empty")
	}
	members := make([]string, 0, len(userIDs)+1)
	seen := make(map[string]struct{}, len(userIDs)+1)
	for _, id := range userIDs {
		if id == "" {
			return nil, invalid("userIds must not contain empty ids")
		}
		if _, dup := seen[id]; dup {
			return nil, invalid("userIds must be unique, %q repeats", id)
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	if _, ok := seen[initiator]; !ok {
		members = append(members, initiator)
	}
	if len(members) < 2 {
		return nil, invalid("a chat needs at least one other user")
	}

	key := store.MemberKey(roomType, members)
	existing, err := s.rooms.ByMemberKey(ctx, key)
	if err == nil {
		return &InitiateResult{IsNew: false, ChatRoomID: existing.ID, Type: existing.Type}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, wrapStore("find room", err)
	}

	now := s.now()
	room := models.Room{ID: models.NewID(), Type: roomType, ChatInitiator: initiator, MemberKey: &key, CreatedAt: now, UpdatedAt: now}
	err = s.rooms.Create(ctx, &room, members, now)
	if errors.Is(err, store.ErrMemberKeyTaken) {
		// 并发发起同一会话，读回胜出者
		winner, err := s.rooms.ByMemberKey(ctx, key)
		if err != nil {
			return nil, wrapStore("find room", err)
		}
		return &InitiateResult{IsNew: false, ChatRoomID: winner.ID, Type: winner.Type}, nil
	}
	if err != nil {
		return nil, wrapStore("create room", err)
	}
	return &InitiateResult{IsNew: true, ChatRoomID: room.ID, Type: room.Type}, nil
}

func (s *RoomService) Get(ctx context.Context, roomID string) (*RoomView, error) {
	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, wrapStore("get room", err)
	}
	v := s.view(r)
	return &v, nil
}

// Members 返回房间成员 id，按加入顺序。
func (s *RoomService) Members(ctx context.Context, roomID string) ([]string, error) {
	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, wrapStore("get room", err)
	}
	return r.UserIDs(), nil
}

// ByUser 返回用户当前所在的房间，最近更新的在前。
func (s *RoomService) ByUser(ctx context.Context, userID string) ([]RoomView, error) {
	rooms, err := s.rooms.ByUser(ctx, userID)
	if err != nil {
		return nil, wrapStore("rooms by user", err)
	}
	out := make([]RoomView, 0, len(rooms))
	for i := range rooms {
		out = append(out, s.view(&rooms[i]))
	}
	return out, nil
}

// List 分页返回所有房间，按创建时间升序。
func (s *RoomService) List(ctx context.Context, opts pagination.Options) (*RoomPage, error) {
	spec := opts.Spec()
	rooms, total, err := s.rooms.List(ctx, spec)
	if err != nil {
		return nil, wrapStore("list rooms", err)
	}
	out := make([]RoomView, 0, len(rooms))
	for i := range rooms {
		out = append(out, s.view(&rooms[i]))
	}
	return &RoomPage{Rooms: out, Pagination: spec.For(total)}, nil
}

// Join 把 userID 加入房间成员；房间不存在返回 ErrNotFound，已是成员返回 ErrAlreadyMember。
func (s *RoomService) Join(ctx context.Context, roomID, userID string) (*RoomView, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	r, err := s.rooms.AddMember(ctx, roomID, userID, s.now())
	if err != nil {
		return nil, wrapStore("join room", err)
	}
	v := s.view(r)
	return &v, nil
}

// Leave 把 userID 移出房间成员；房间不存在返回 ErrNotFound，非成员返回 ErrNotMember。
func (s *RoomService) Leave(ctx context.Context, roomID, userID string) (*RoomView, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	r, err := s.rooms.RemoveMember(ctx, roomID, userID, s.now())
	if err != nil {
		return nil, wrapStore("leave room", err)
	}
	v := s.view(r)
	return &v, nil
}

package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"chatserver/internal/models"
	"chatserver/internal/pagination"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

// MessageService 封装消息的持久化、已读回执与会话查询。
type MessageService struct {
	messages MessageStore
	rooms    RoomStore
	users    *UserService
	now      func() time.Time
}

func NewMessageService(messages MessageStore, rooms RoomStore, users *UserService) *MessageService {
	return &MessageService{messages: messages, rooms: rooms, users: users, now: func() time.Time { return time.Now().UTC() }}
}

// Post 以 author 身份在房间中发送文本消息，作者自动计为已读。
// 返回值附带房间当前成员资料；该资料在写入之后读取，只保证本次请求内的读己之写。
// 写入提交后的资料读取失败不会让 Post 失败，此时 UserProfiles 只含作者。
func (s *MessageService) Post(ctx context.Context, roomID, author, text string) (*PostedMessage, error) {
	if author == "" {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(text) == "" {
		return nil, invalid("messageText is required")
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, wrapStore("get room", err)
	}
	if !slices.Contains(room.UserIDs(), author) {
		return nil, ErrNotMember
	}

	now := s.now()
	m := models.Message{
		ID:        models.NewID(),
		RoomID:    roomID,
		PostedBy:  author,
		Type:      models.MessageTypeText,
		Payload:   datatypes.NewJSONType(models.MessageData{MessageText: text}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.messages.Create(ctx, &m); err != nil {
		return nil, wrapStore("post message", err)
	}

	view := messageView(&m)
	if p, err := s.users.Get(ctx, author); err == nil {
		view.PostedByUser = *p
		for i := range view.ReadByRecipients {
			view.ReadByRecipients[i].Reader = p
		}
	}
	memberIDs := room.UserIDs()
	if fresh, err := s.rooms.Get(ctx, roomID); err == nil {
		memberIDs = fresh.UserIDs()
	}
	profiles, err := s.users.Profiles(ctx, memberIDs)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("message_id", m.ID).Msg("load member profiles after post failed")
		profiles = []UserProfile{view.PostedByUser}
	}
	return &PostedMessage{MessageView: view, UserProfiles: profiles}, nil
}

// MarkRead 把房间内 userID 未读的消息全部标记为已读，返回新增回执数。
func (s *MessageService) MarkRead(ctx context.Context, roomID, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrUnauthorized
	}
	if _, err := s.rooms.Get(ctx, roomID); err != nil {
		return 0, wrapStore("get room", err)
	}
	n, err := s.messages.MarkRead(ctx, roomID, userID, s.now())
	if err != nil {
		return 0, wrapStore("mark read", err)
	}
	return n, nil
}

// Page 返回 roomIDs 中的一页消息，按创建时间升序。
func (s *MessageService) Page(ctx context.Context, roomIDs []string, opts pagination.Options) (*MessagePage, error) {
	spec := opts.Spec()
	msgs, total, err := s.messages.ByRooms(ctx, roomIDs, spec)
	if err != nil {
		return nil, wrapStore("load messages", err)
	}
	out := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, messageView(&msgs[i]))
	}
	return &MessagePage{Conversation: out, Pagination: spec.For(total)}, nil
}

// Recent 返回 userID 所在各房间的最后一条消息，最新的在前。
func (s *MessageService) Recent(ctx context.Context, userID string, opts pagination.Options) (*DigestPage, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	rooms, err := s.rooms.ByUser(ctx, userID)
	if err != nil {
		return nil, wrapStore("rooms by user", err)
	}
	roomIDs := make([]string, 0, len(rooms))
	members := make(map[string][]string, len(rooms))
	var everyone []string
	seen := make(map[string]struct{})
	for i := range rooms {
		ids := rooms[i].UserIDs()
		roomIDs = append(roomIDs, rooms[i].ID)
		members[rooms[i].ID] = ids
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				everyone = append(everyone, id)
			}
		}
	}

	spec := opts.Spec()
	msgs, total, err := s.messages.LatestByRooms(ctx, roomIDs, spec)
	if err != nil {
		return nil, wrapStore("load conversations", err)
	}
	profiles := map[string]UserProfile{}
	if len(msgs) > 0 {
		list, err := s.users.Profiles(ctx, everyone)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			profiles[p.ID] = p
		}
	}

	out := make([]DigestEntry, 0, len(msgs))
	for i := range msgs {
		info := make([]UserProfile, 0, len(members[msgs[i].RoomID]))
		for _, id := range members[msgs[i].RoomID] {
			if p, ok := profiles[id]; ok {
				info = append(info, p)
			}
		}
		out = append(out, DigestEntry{MessageView: messageView(&msgs[i]), RoomInfo: info})
	}
	return &DigestPage{Conversation: out, Pagination: spec.For(total)}, nil
}

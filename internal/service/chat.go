package service

import (
	"context"

	"chatserver/internal/metrics"
	"chatserver/internal/pagination"

	"github.com/rs/zerolog/log"
)

// EventMessageNew 是新消息广播的事件名。
const EventMessageNew = "message.new"

// Chat 是 HTTP 与 websocket 共用的编排层：校验身份，调用房间与消息服务，写入成功后广播。
type Chat struct {
	Users    *UserService
	Rooms    *RoomService
	Messages *MessageService
	pub      Publisher
}

// NewChat 组装编排层；pub 为 nil 时不做实时推送。
func NewChat(users *UserService, rooms *RoomService, messages *MessageService, pub Publisher) *Chat {
	return &Chat{Users: users, Rooms: rooms, Messages: messages, pub: pub}
}

func identify(uid string) error {
	if uid == "" {
		return ErrUnauthorized
	}
	return nil
}

func (c *Chat) CreateRoom(ctx context.Context, uid, name string) (*RoomView, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	return c.Rooms.Create(ctx, name, uid)
}

func (c *Chat) InitiateChat(ctx context.Context, uid string, userIDs []string, roomType string) (*InitiateResult, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	return c.Rooms.Initiate(ctx, userIDs, roomType, uid)
}

func (c *Chat) GetRoom(ctx context.Context, uid, roomID string) (*RoomView, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	return c.Rooms.Get(ctx, roomID)
}

func (c *Chat) ListRooms(ctx context.Context, uid string, opts pagination.Options) (*RoomPage, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	return c.Rooms.List(ctx, opts)
}

func (c *Chat) RoomsForUser(ctx context.Context, uid string) ([]RoomView, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	return c.Rooms.ByUser(ctx, uid)
}

// JoinRoom 加入房间并返回第一页会话。
func (c *Chat) JoinRoom(ctx context.Context, uid, roomID string) (*Conversation, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	if _, err := c.Rooms.Join(ctx, roomID, uid); err != nil {
		return nil, err
	}
	return c.GetConversationByRoom(ctx, uid, roomID, pagination.Options{Page: pagination.DefaultPage, Limit: pagination.DefaultLimit})
}

func (c *Chat) LeaveRoom(ctx context.Context, uid, roomID string) (*RoomView, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	return c.Rooms.Leave(ctx, roomID, uid)
}

// PostMessage 持久化消息后向房间广播 message.new；广播失败不影响写入结果。
func (c *Chat) PostMessage(ctx context.Context, uid, roomID, text, source string) (*PostedMessage, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	posted, err := c.Messages.Post(ctx, roomID, uid, text)
	if err != nil {
		return nil, err
	}
	metrics.MessagesPosted.WithLabelValues(source).Inc()
	if c.pub != nil {
		c.pub.Publish(roomID, EventMessageNew, posted)
	}
	log.Debug().Str("room_id", roomID).Str("user_id", uid).Str("message_id", posted.ID).Msg("message posted")
	return posted, nil
}

// GetMessages 返回房间的一页消息（page 从 1 开始）。
func (c *Chat) GetMessages(ctx context.Context, uid, roomID string, opts pagination.Options) (*MessagePage, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	if _, err := c.Rooms.Get(ctx, roomID); err != nil {
		return nil, err
	}
	return c.Messages.Page(ctx, []string{roomID}, opts)
}

// GetRecentConversations 返回会话列表，opts 由调用方从 0 起始的 page 转换而来。
func (c *Chat) GetRecentConversations(ctx context.Context, uid string, opts pagination.Options) (*DigestPage, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	return c.Messages.Recent(ctx, uid, opts)
}

// GetConversationByRoom 返回房间信息、成员资料与一页消息。
func (c *Chat) GetConversationByRoom(ctx context.Context, uid, roomID string, opts pagination.Options) (*Conversation, error) {
	if err := identify(uid); err != nil {
		return nil, err
	}
	room, err := c.Rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	users, err := c.Users.Profiles(ctx, room.UserIDs)
	if err != nil {
		return nil, err
	}
	page, err := c.Messages.Page(ctx, []string{roomID}, opts)
	if err != nil {
		return nil, err
	}
	return &Conversation{Room: *room, Users: users, Conversation: page.Conversation, Pagination: page.Pagination}, nil
}

func (c *Chat) MarkRead(ctx context.Context, uid, roomID string) (int64, error) {
	if err := identify(uid); err != nil {
		return 0, err
	}
	n, err := c.Messages.MarkRead(ctx, roomID, uid)
	if err != nil {
		return 0, err
	}
	metrics.ReadReceiptsMarked.Add(float64(n))
	return n, nil
}

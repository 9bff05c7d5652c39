package service

import (
	"time"

	"chatserver/internal/models"
	"chatserver/internal/pagination"
)

// UserProfile 是对外输出的用户资料，不含密码等敏感字段。
type UserProfile struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Type      string `json:"type"`
}

func profileOf(u *models.User) UserProfile {
	return UserProfile{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Type: u.Type}
}

// RoomView 是对外输出的房间数据，Online 为当前订阅该房间的连接数。
type RoomView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Type          string    `json:"type"`
	ChatInitiator string    `json:"chatInitiator"`
	UserIDs       []string  `json:"userIds"`
	Online        int       `json:"online"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type ReadReceiptView struct {
	ReadByUserID string       `json:"readByUserId"`
	ReadAt       time.Time    `json:"readAt"`
	Reader       *UserProfile `json:"reader,omitempty"`
}

// MessageView 是对外输出的消息。作者已被删除时 PostedByUser 只带 id。
type MessageView struct {
	ID               string             `json:"id"`
	ChatRoomID       string             `json:"chatRoomId"`
	Message          models.MessageData `json:"message"`
	Type             string             `json:"type"`
	PostedByUser     UserProfile        `json:"postedByUser"`
	ReadByRecipients []ReadReceiptView  `json:"readByRecipients"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// PostedMessage 是发送消息后的完整结果：消息本身加上房间当前成员的资料。
type PostedMessage struct {
	MessageView
	UserProfiles []UserProfile `json:"userProfiles"`
}

// MessagePage 是按时间升序的一页消息。
type MessagePage struct {
	Conversation []MessageView         `json:"conversation"`
	Pagination   pagination.Pagination `json:"pagination"`
}

// DigestEntry 是会话列表中的一项：房间内最后一条消息及房间成员资料。
type DigestEntry struct {
	MessageView
	RoomInfo []UserProfile `json:"roomInfo"`
}

type DigestPage struct {
	Conversation []DigestEntry         `json:"conversation"`
	Pagination   pagination.Pagination `json:"pagination"`
}

// Conversation 是单个房间的会话视图。
type Conversation struct {
	Room         RoomView              `json:"room"`
	Users        []UserProfile         `json:"users"`
	Conversation []MessageView         `json:"conversation"`
	Pagination   pagination.Pagination `json:"pagination"`
}

// InitiateResult 是发起固定类型会话的结果，IsNew 表示是否新建了房间。
type InitiateResult struct {
	IsNew      bool   `json:"isNew"`
	ChatRoomID string `json:"chatRoomId"`
	Type       string `json:"type"`
}

type RoomPage struct {
	Rooms      []RoomView            `json:"rooms"`
	Pagination pagination.Pagination `json:"pagination"`
}

func roomView(r *models.Room, online int) RoomView {
	return RoomView{
		ID:            r.ID,
		Name:          r.Name,
		Type:          r.Type,
		ChatInitiator: r.ChatInitiator,
		UserIDs:       r.UserIDs(),
		Online:        online,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func messageView(m *models.Message) MessageView {
	author := UserProfile{ID: m.PostedBy}
	if m.Author != nil {
		author = profileOf(m.Author)
	}
	receipts := make([]ReadReceiptView, 0, len(m.ReadReceipts))
	for _, rr := range m.ReadReceipts {
		v := ReadReceiptView{ReadByUserID: rr.UserID, ReadAt: rr.ReadAt}
		if rr.Reader != nil {
			p := profileOf(rr.Reader)
			v.Reader = &p
		}
		receipts = append(receipts, v)
	}
	return MessageView{
		ID:               m.ID,
		ChatRoomID:       m.RoomID,
		Message:          m.Payload.Data(),
		Type:             m.Type,
		PostedByUser:     author,
		ReadByRecipients: receipts,
		CreatedAt:        m.CreatedAt,
	}
}

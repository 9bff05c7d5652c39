package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatserver/internal/auth"
	"chatserver/internal/config"
	"chatserver/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const sendQueueSize = 256

// 上行事件名。
const (
	EventIdentify    = "identify"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventPost        = "postMessage"
)

// 下行事件名；message.new 由 service.EventMessageNew 定义。
const (
	EventIdentified   = "identified"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
)

// Poster 是连接上 postMessage 事件委托的编排层。
type Poster interface {
	PostMessage(ctx context.Context, uid, roomID, text, source string) (*service.PostedMessage, error)
}

// Client 是一个 websocket 连接。send 在 closed 置位时关闭，入队与关闭由 mu 串行化，
// 因此并发的 Unregister 不会让广播方向已关闭的 channel 写入。
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(id, userID string, conn *websocket.Conn) *Client {
	return &Client{id: id, userID: userID, conn: conn, send: make(chan []byte, sendQueueSize)}
}

func (c *Client) ID() string { return c.id }

func (c *Client) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) reply(event, roomID string, data any) {
	b, err := json.Marshal(Event{Event: event, RoomID: roomID, Data: data})
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *Client) fail(request string, err error) {
	c.reply(EventError, "", gin.H{"request": request, "kind": service.KindOf(err), "message": err.Error()})
}

// Inbound 是上行事件，字段按事件类型取用。
type Inbound struct {
	Event       string `json:"event"`
	UserID      string `json:"userId"`
	RoomID      string `json:"roomId"`
	OtherUserID string `json:"otherUserId"`
	MessageText string `json:"messageText"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 在握手时完成认证，连接自动绑定到认证用户。
func Serve(h *Hub, chat Poster, db *gorm.DB, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := auth.Authenticate(c.Request.Context(), db, cfg.JWTSecret, auth.BearerToken(c.Request))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": err.Error(), "kind": service.KindUnauthorized})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(h.NextConnID(), uid, conn)
		h.Register(client)
		log.Debug().Str("conn_id", client.id).Str("user_id", uid).Msg("websocket connected")
		client.reply(EventIdentified, "", gin.H{"connectionId": client.id, "userId": uid})

		go client.writePump()
		client.readPump(h, chat)
	}
}

// handle 处理一条上行事件。postMessage 使用独立 context：连接断开不取消已发出的写入。
func (h *Hub) handle(c *Client, chat Poster, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.fail("", fmt.Errorf("%w: malformed event", service.ErrValidation))
		return
	}
	switch in.Event {
	case EventIdentify:
		if in.UserID == "" {
			c.fail(in.Event, fmt.Errorf("%w: userId is required", service.ErrValidation))
			return
		}
		if in.UserID != c.userID {
			c.fail(in.Event, service.ErrUnauthorized)
			return
		}
		h.presence.Identify(c.id, in.UserID)
		c.reply(EventIdentified, "", gin.H{"connectionId": c.id, "userId": in.UserID})
	case EventSubscribe:
		if in.RoomID == "" {
			c.fail(in.Event, fmt.Errorf("%w: roomId is required", service.ErrValidation))
			return
		}
		joined := h.Subscribe(c.id, in.RoomID, in.OtherUserID)
		c.reply(EventSubscribed, in.RoomID, gin.H{"connections": joined})
	case EventUnsubscribe:
		if in.RoomID == "" {
			c.fail(in.Event, fmt.Errorf("%w: roomId is required", service.ErrValidation))
			return
		}
		h.Unsubscribe(c.id, in.RoomID)
		c.reply(EventUnsubscribed, in.RoomID, nil)
	case EventPost:
		if _, err := chat.PostMessage(context.Background(), c.userID, in.RoomID, in.MessageText, "ws"); err != nil {
			if errors.Is(err, service.ErrStorage) {
				log.Error().Err(err).Str("conn_id", c.id).Str("room_id", in.RoomID).Msg("post message failed")
			}
			c.fail(in.Event, err)
		}
	default:
		c.fail(in.Event, fmt.Errorf("%w: unknown event %q", service.ErrValidation, in.Event))
	}
}

func (c *Client) readPump(h *Hub, chat Poster) {
	defer func() {
		h.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		h.handle(c, chat, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

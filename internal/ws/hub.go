package ws

import (
	"encoding/json"
	"sort"
	"sync"

	"chatserver/internal/metrics"
	"chatserver/internal/presence"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog/log"
)

// Event 是下行给客户端的事件信封。
type Event struct {
	Event  string `json:"event"`
	RoomID string `json:"roomId,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Hub 是房间广播路由：维护在线连接与房间频道的订阅关系。
// 订阅只存在于传输层，不修改房间的持久化成员。
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	rooms    map[string]map[*Client]struct{}
	presence *presence.Registry
	newID    func() string
}

func NewHub(p *presence.Registry) *Hub {
	gen, err := nanoid.Standard(21)
	if err != nil {
		// 21 是合法长度，不会出错
		panic(err)
	}
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[*Client]struct{}),
		presence: p,
		newID:    gen,
	}
}

// NextConnID 生成新的连接 id。
func (h *Hub) NextConnID() string { return h.newID() }

// Presence 返回 Hub 使用的在线状态表。
func (h *Hub) Presence() *presence.Registry { return h.presence }

// Register 登记连接；若连接已认证则同时绑定用户。
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		return
	}
	h.clients[c.id] = c
	h.presence.Connect(c.id)
	if c.userID != "" {
		h.presence.Identify(c.id, c.userID)
	}
	metrics.WsConnections.Inc()
}

// Unregister 把连接从所有频道移除并关闭其发送队列，可重复调用。
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.id] != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for _, roomID := range h.presence.Disconnect(c.id) {
		h.leave(c, roomID)
	}
	h.mu.Unlock()
	c.close()
	metrics.WsConnections.Dec()
}

func (h *Hub) leave(c *Client, roomID string) {
	if subs, ok := h.rooms[roomID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Subscribe 把 connID 加入 roomID 频道。otherUserID 非空时，该用户当前所有在线连接也一并加入，
// 使其其它设备无需持久化入房即可收到该房间的消息。返回本次加入频道的连接 id。
func (h *Hub) Subscribe(connID, roomID, otherUserID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	targets := make([]*Client, 0, 1)
	if c, ok := h.clients[connID]; ok {
		targets = append(targets, c)
	}
	if otherUserID != "" {
		for _, id := range h.presence.ConnectionsForUser(otherUserID) {
			if c, ok := h.clients[id]; ok && id != connID {
				targets = append(targets, c)
			}
		}
	}
	joined := make([]string, 0, len(targets))
	for _, c := range targets {
		subs := h.rooms[roomID]
		if subs == nil {
			subs = make(map[*Client]struct{})
			h.rooms[roomID] = subs
		}
		subs[c] = struct{}{}
		h.presence.Joined(c.id, roomID)
		joined = append(joined, c.id)
	}
	return joined
}

func (h *Hub) Unsubscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	h.leave(c, roomID)
	h.presence.Left(connID, roomID)
}

// Publish 把事件投递给当前订阅 roomID 的全部连接。先在读锁下取快照再逐个入队，
// 队列已满或已关闭的连接直接丢弃该事件；没有订阅者时什么都不做。
func (h *Hub) Publish(roomID, event string, data any) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()
	if len(subs) == 0 {
		return
	}
	b, err := json.Marshal(Event{Event: event, RoomID: roomID, Data: data})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("event", event).Msg("marshal event failed")
		return
	}
	for _, c := range subs {
		if c.enqueue(b) {
			metrics.EventsDelivered.Inc()
			continue
		}
		metrics.EventsDropped.Inc()
		log.Warn().Str("room_id", roomID).Str("conn_id", c.id).Str("event", event).Msg("event dropped for slow or closed connection")
	}
}

// Subscribers 返回订阅 roomID 的连接 id。
func (h *Hub) Subscribers(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		out = append(out, c.id)
	}
	sort.Strings(out)
	return out
}

// Online 返回房间在线连接数量，供 REST 接口复用。
func (h *Hub) Online(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Close 断开所有连接，用于优雅停服。
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.Unregister(c)
	}
}

// Package presence 维护连接 id 与用户、已加入房间之间的内存映射。
package presence

import (
	"sort"
	"sync"
)

type entry struct {
	userID string
	rooms  map[string]struct{}
}

// Registry 是并发安全的在线状态表。内部 map 不对外暴露，所有读写都经过同一把锁。
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry              // connId → entry
	users map[string]map[string]struct{} // userId → set of connIds
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		users: make(map[string]map[string]struct{}),
	}
}

// Connect 登记一个尚未绑定用户的连接；重复登记不会清空已有状态。
func (r *Registry) Connect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = &entry{rooms: make(map[string]struct{})}
	}
}

// Identify 把连接绑定到 userID。同一用户可以有多个连接（多设备）；
// 重新绑定到另一个用户时从旧用户的索引中移除。未知连接忽略。
func (r *Registry) Identify(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok || e.userID == userID {
		return
	}
	if e.userID != "" {
		r.unindex(e.userID, connID)
	}
	e.userID = userID
	if userID == "" {
		return
	}
	if r.users[userID] == nil {
		r.users[userID] = make(map[string]struct{})
	}
	r.users[userID][connID] = struct{}{}
}

func (r *Registry) unindex(userID, connID string) {
	if set, ok := r.users[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
		}
	}
}

// Disconnect 删除连接及其全部房间关系，返回它曾加入的房间。
func (r *Registry) Disconnect(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)
	if e.userID != "" {
		r.unindex(e.userID, connID)
	}
	return sortedKeys(e.rooms)
}

// ConnectionsForUser 返回用户当前所有在线连接 id。
func (r *Registry) ConnectionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.users[userID])
}

// UserFor 返回连接绑定的用户，未绑定或未知连接返回空串。
func (r *Registry) UserFor(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[connID]; ok {
		return e.userID
	}
	return ""
}

// Joined 记录连接加入了 roomID，返回连接是否存在。
func (r *Registry) Joined(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	e.rooms[roomID] = struct{}{}
	return true
}

func (r *Registry) Left(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[connID]; ok {
		delete(e.rooms, roomID)
	}
}

// Rooms 返回连接已加入的房间。
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[connID]; ok {
		return sortedKeys(e.rooms)
	}
	return nil
}

// OnlineUsers 返回至少有一个连接的用户。
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.users)
}

type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.conns), Users: len(r.users)}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

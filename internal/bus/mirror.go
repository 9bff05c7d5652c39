// Package bus 把房间事件单向镜像到 NATS，作为多进程扩展的接入点；进程内没有订阅方。
package bus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher 与 service.Publisher 同形。
type Publisher interface {
	Publish(roomID, event string, data any)
}

type natsPublisher interface {
	Publish(subj string, data []byte) error
}

// Envelope 是镜像到 NATS 的消息体。
type Envelope struct {
	Event  string          `json:"event"`
	RoomID string          `json:"roomId"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sentAt"`
}

// Mirror 先交给本地 Publisher 广播，再发布到 <prefix>.<roomId>.<event>。
// NATS 失败只记录日志，不影响本地投递。
type Mirror struct {
	next   Publisher
	nc     natsPublisher
	prefix string
}

func NewMirror(next Publisher, nc natsPublisher, prefix string) *Mirror {
	return &Mirror{next: next, nc: nc, prefix: prefix}
}

// Subject 返回房间事件的 NATS subject。
func (m *Mirror) Subject(roomID, event string) string {
	return m.prefix + "." + roomID + "." + event
}

func (m *Mirror) Publish(roomID, event string, data any) {
	if m.next != nil {
		m.next.Publish(roomID, event, data)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("mirror marshal failed")
		return
	}
	b, err := json.Marshal(Envelope{Event: event, RoomID: roomID, Data: raw, SentAt: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := m.nc.Publish(m.Subject(roomID, event), b); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("event", event).Msg("mirror publish failed")
	}
}

// Connect 连接 NATS，服务启动时 NATS 可能尚未就绪，按 attempts 次重试。
func Connect(url, name string, attempts int) (*nats.Conn, error) {
	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		nc, err = nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err == nil {
			return nc, nil
		}
		log.Info().Int("attempt", attempt).Err(err).Msg("waiting for NATS")
		time.Sleep(time.Second)
	}
	return nil, err
}

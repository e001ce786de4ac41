package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one progress message published on a topic.
type Event struct {
	Topic   string    `json:"topic"`
	Channel string    `json:"channel"`
	Message any       `json:"message"`
	Time    time.Time `json:"time"`
}

// defaultBuffer is the per-subscriber channel capacity.
const defaultBuffer = 32

// Hub fans events out to subscribers. Broadcast never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{}), buffer: defaultBuffer}
}

// Subscribe registers for events on topic. The returned cancel func
// unsubscribes and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan Event]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[topic], ch)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Broadcast publishes message on topic.
func (h *Hub) Broadcast(topic string, message any, channel string) {
	ev := Event{Topic: topic, Channel: channel, Message: message, Time: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[topic] {
		select {
		case ch <- ev:
		default:
			zap.L().Debug("notify: dropped event for slow subscriber", zap.String("topic", topic))
		}
	}
}

// ZapBroadcaster logs progress events at debug level.
type ZapBroadcaster struct{}

// Broadcast logs the event.
func (ZapBroadcaster) Broadcast(topic string, message any, channel string) {
	zap.L().Debug("trigger progress",
		zap.String("topic", topic),
		zap.String("channel", channel),
		zap.Any("message", message),
	)
}

// MultiBroadcaster forwards every event to each member in order.
type MultiBroadcaster []interface {
	Broadcast(topic string, message any, channel string)
}

// Broadcast forwards the event.
func (m MultiBroadcaster) Broadcast(topic string, message any, channel string) {
	for _, b := range m {
		b.Broadcast(topic, message, channel)
	}
}

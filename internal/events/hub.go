// Package events provides in-process progress fan-out for synthesis
// runs, delivered to HTTP clients over Server-Sent Events.
package events

import (
	"sync"
	"time"
)

// Event kinds. This set is closed; anything a publisher wants to say
// beyond it goes in the data payload.
const (
	KindProgress     = "progress"
	KindCompleted    = "completed"
	KindFailed       = "failed"
	KindNotification = "notification"
	KindPing         = "ping"
)

// DocumentTopic names the topic carrying one document's events.
func DocumentTopic(id string) string { return "document:" + id }

// TaskTopic names the topic carrying one task's events.
func TaskTopic(id string) string { return "task:" + id }

// Event is the wire envelope delivered to subscribers. Topic routes
// the event inside the hub and is not serialized.
type Event struct {
	Kind      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`

	Topic string `json:"-"`
}

// subscriber buffers events for one client. Slow clients drop events
// rather than block publishers.
type subscriber struct {
	ch    chan Event
	topic string
}

// Hub fans events out to subscribers. The empty topic subscribes to
// everything; otherwise topic matches Event.Topic exactly.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub creates an event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be
// called when the client disconnects.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	sub := &subscriber{
		ch:    make(chan Event, 64),
		topic: topic,
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers an event to matching subscribers. Non-blocking:
// full subscriber buffers drop the event.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if sub.topic != "" && sub.topic != ev.Topic {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports active subscribers, for health reporting.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

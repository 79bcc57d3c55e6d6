package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Hub fans events out to in-process subscribers by topic. A subscriber whose buffer is
// full misses the event instead of stalling the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[chan []byte]struct{}
	buffer  int
	dropped atomic.Int64
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{subs: make(map[string]map[chan []byte]struct{}), buffer: buffer}
}

// Subscribe registers for topic. The returned cancel func closes the channel.
func (h *Hub) Subscribe(topic string) (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan []byte]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[topic]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, topic)
				}
			}
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Publish encodes event as JSON and delivers it to the subscribers of topic.
func (h *Hub) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	h.Deliver(topic, data)
	return nil
}

// Deliver sends an encoded event to the subscribers of topic.
func (h *Hub) Deliver(topic string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[topic] {
		select {
		case ch <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers reports how many subscribers topic has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Dropped counts events lost to slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

package service

import (
	"sync"

	"chatwithai-backend/internal/model"
)

const subscriberBuffer = 32

// EventHub 按会话分发消息事件，慢订阅者丢弃事件而不是阻塞分发
type EventHub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan model.Event]struct{}
	closed bool
}

func NewEventHub() *EventHub {
	return &EventHub{
		subs: make(map[string]map[chan model.Event]struct{}),
	}
}

// Subscribe 返回事件通道和取消函数，取消后通道被关闭
func (h *EventHub) Subscribe(sessionID string) (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}

	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan model.Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sessionID][ch]; ok {
				delete(h.subs[sessionID], ch)
				if len(h.subs[sessionID]) == 0 {
					delete(h.subs, sessionID)
				}
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish 非阻塞投递
func (h *EventHub) Publish(event model.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0
	}

	delivered := 0
	for ch := range h.subs[event.SessionID] {
		select {
		case ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}

// Close 关闭所有订阅通道
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sessionID, chans := range h.subs {
		for ch := range chans {
			close(ch)
		}
		delete(h.subs, sessionID)
	}
}

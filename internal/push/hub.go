// Package push 管理在線用戶的推送訂閱與事件扇出。
// WebSocket 與 SSE 端點共用同一個進程內 Hub：投遞協調器只對 Hub 發佈，
// 不關心訂閱者背後的傳輸方式.
package push

import (
	"sync"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/platform/config"
	"dm-gateway/internal/platform/logger"
	"dm-gateway/internal/storage"
)

// EventType 推送事件類型.
type EventType string

const (
	// EventMessage 新訊息.
	EventMessage EventType = "message"
	// EventMessageDeleted 訊息被軟刪除.
	EventMessageDeleted EventType = "message_deleted"
	// EventRead 某成員推進了已讀水位.
	EventRead EventType = "read"
	// EventTyping 某成員正在輸入.
	EventTyping EventType = "typing"
	// EventMembership 成員變動（加入/離開）.
	EventMembership EventType = "membership"
)

// Event 推送給訂閱者的事件.
type Event struct {
	Type           EventType        `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Message        *storage.Message `json:"message,omitempty"`
	UserID         string           `json:"user_id,omitempty"`
	Seq            int64            `json:"seq,omitempty"`
}

// Subscriber 單一推送連線的訂閱。
// 事件通道有界：消費太慢時事件被丟棄，連線降級為「上線通知」，
// 遺漏的訊息由客戶端用 since 游標拉取補齊.
type Subscriber struct {
	UserID string

	ch      chan Event
	closeMu sync.Mutex
	closed  bool
}

// C 回傳事件接收通道.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

func (s *Subscriber) send(event Event) bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return true
	default:
		// 通道滿了就丟棄，絕不阻塞發佈方
		return false
	}
}

func (s *Subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub 按用戶 ID 管理推送訂閱.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{}
}

// NewHub 創建新的推送 Hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe 為用戶建立一個新訂閱.
func (h *Hub) Subscribe(userID string) *Subscriber {
	buffer := constants.DefaultPushChannelBuffer
	if cfg := config.Get(); cfg != nil && cfg.Limits.Delivery.PushChannelBuffer > 0 {
		buffer = cfg.Limits.Delivery.PushChannelBuffer
	}

	sub := &Subscriber{
		UserID: userID,
		ch:     make(chan Event, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[*Subscriber]struct{})
	}
	h.subscribers[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe 移除訂閱並關閉其事件通道.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if subs, ok := h.subscribers[sub.UserID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, sub.UserID)
		}
	}
	h.mu.Unlock()

	sub.close()
}

// Publish 向指定用戶的所有訂閱發佈事件。
// 發佈永不阻塞；離線用戶沒有訂閱，事件自然落空，
// 其訊息停留在存儲中等待拉取.
func (h *Hub) Publish(userIDs []string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userID := range userIDs {
		subs, ok := h.subscribers[userID]
		if !ok {
			continue
		}
		for sub := range subs {
			if !sub.send(event) {
				logger.LogWarnf("推送通道已滿，事件被丟棄: user=%s type=%s", userID, event.Type)
			}
		}
	}
}

// HasSubscriber 檢查用戶是否有任何在線訂閱.
func (h *Hub) HasSubscriber(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.subscribers[userID]
	return ok && len(subs) > 0
}

// Package presence 追蹤用戶在線狀態與輸入中指示。
// 狀態僅存於進程內，重啟後歸零；在線與否由推送連線的生命週期驅動.
package presence

import (
	"sync"
	"time"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/platform/config"
)

// Status 用戶在線狀態快照.
type Status struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

type userState struct {
	// connections 同一用戶可能有多條推送連線，歸零才算離線
	connections int
	lastSeen    time.Time
	// typingUntil 按會話記錄輸入中的到期時間
	typingUntil map[string]time.Time
}

// Tracker 進程內在線狀態追蹤器.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]*userState

	// now 可替換的時鐘，測試用
	now func() time.Time
}

// NewTracker 創建新的在線狀態追蹤器.
func NewTracker() *Tracker {
	return &Tracker{
		users: make(map[string]*userState),
		now:   time.Now,
	}
}

// SetOnline 記錄一條推送連線上線.
func (t *Tracker) SetOnline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.stateLocked(userID)
	state.connections++
	state.lastSeen = t.now().UTC()
}

// SetOffline 記錄一條推送連線下線；所有連線歸零才算離線.
func (t *Tracker) SetOffline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.users[userID]
	if !ok {
		return
	}
	if state.connections > 0 {
		state.connections--
	}
	state.lastSeen = t.now().UTC()
}

// IsOnline 檢查用戶是否在線.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.users[userID]
	return ok && state.connections > 0
}

// Get 取得用戶在線狀態快照.
func (t *Tracker) Get(userID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.users[userID]
	if !ok {
		return Status{UserID: userID}
	}
	return Status{
		UserID:   userID,
		Online:   state.connections > 0,
		LastSeen: state.lastSeen,
	}
}

// SetTyping 標記用戶在某會話輸入中，TTL 後自動過期，無需顯式清除.
func (t *Tracker) SetTyping(conversationID, userID string) {
	ttl := typingTTL()

	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.stateLocked(userID)
	if state.typingUntil == nil {
		state.typingUntil = make(map[string]time.Time)
	}
	state.typingUntil[conversationID] = t.now().Add(ttl)
}

// TypingUsers 回傳會話內目前輸入中的用戶，過期的條目順手清掉.
func (t *Tracker) TypingUsers(conversationID string) []string {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	typing := []string{}
	for userID, state := range t.users {
		until, ok := state.typingUntil[conversationID]
		if !ok {
			continue
		}
		if now.After(until) {
			delete(state.typingUntil, conversationID)
			continue
		}
		typing = append(typing, userID)
	}
	return typing
}

func (t *Tracker) stateLocked(userID string) *userState {
	state, ok := t.users[userID]
	if !ok {
		state = &userState{}
		t.users[userID] = state
	}
	return state
}

func typingTTL() time.Duration {
	seconds := constants.DefaultTypingTTLSeconds
	if cfg := config.Get(); cfg != nil && cfg.Limits.Delivery.TypingTTLSeconds > 0 {
		seconds = cfg.Limits.Delivery.TypingTTLSeconds
	}
	return time.Duration(seconds) * time.Second
}

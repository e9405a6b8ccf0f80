// Package memory 提供進程內存儲實現，語義與 MongoDB 實現一致。
// 用於單機部署與測試，不依賴外部數據庫.
package memory

import (
	"sync"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/platform/config"
	"dm-gateway/internal/storage"
)

// Store 進程內存儲。所有讀寫在單一讀寫鎖之下，
// 同一會話的追加因此天然序列化，順序鍵嚴格遞增且無空洞.
type Store struct {
	mu sync.RWMutex

	conversations map[string]*storage.Conversation // id -> conversation
	directKeys    map[string]string                // direct_key -> conversation id
	messages      map[string][]*storage.Message    // conversation id -> messages（按 seq 升序）
	cursors       map[string]*storage.Cursor       // conversation id + "|" + user id -> cursor
}

// NewStore 創建新的進程內存儲.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*storage.Conversation),
		directKeys:    make(map[string]string),
		messages:      make(map[string][]*storage.Message),
		cursors:       make(map[string]*storage.Cursor),
	}
}

// NewRepositories 建立基於進程內存儲的倉儲集合.
func NewRepositories() *storage.Repositories {
	s := NewStore()
	return &storage.Repositories{
		Conversations: &ConversationStore{store: s},
		Messages:      &MessageStore{store: s},
		Cursors:       &CursorStore{store: s},
	}
}

func cursorKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

// clampLimit 限制分頁大小，防止性能問題.
func clampLimit(limit int) int {
	cfg := config.Get()
	defaultLimit := constants.DefaultPageSize
	maxLimit := constants.DefaultMaxPageSize
	if cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			defaultLimit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.Pagination.MaxPageSize > 0 {
			maxLimit = cfg.Limits.Pagination.MaxPageSize
		}
	}

	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

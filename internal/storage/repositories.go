package storage

import "context"

// ConversationRepository 會話註冊表倉儲接口.
type ConversationRepository interface {
	// GetOrCreateDirect 冪等建立私聊：同一對用戶（不分順序）永遠得到同一個會話.
	GetOrCreateDirect(ctx context.Context, userA, userB string) (*Conversation, error)
	// CreateGroup 建立群組，要求 creatorID ∈ memberIDs 且成員數 ≥ 2.
	CreateGroup(ctx context.Context, creatorID string, memberIDs []string) (*Conversation, error)
	// GetByID 取得會話（含已軟刪除者，由 Deleted 標記區分）.
	GetByID(ctx context.Context, conversationID string) (*Conversation, error)
	// IsMember 檢查用戶是否是現任成員；會話不存在或已刪除回傳 ErrConversationNotFound.
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	// AddMember 添加群組成員；私聊不可變更成員.
	AddMember(ctx context.Context, conversationID, userID string) error
	// RemoveMember 移除群組成員；移除最後一名成員時軟刪除會話.
	RemoveMember(ctx context.Context, conversationID, userID string) error
	// ListUserConversations 列出用戶會話，按 last_message_at 倒序、游標分頁.
	ListUserConversations(ctx context.Context, userID string, limit int, cursor string) ([]*Conversation, string, bool, error)
	// TouchLastMessage 推進會話的最新訊息指標（單調不減）.
	TouchLastMessage(ctx context.Context, conversationID string, seq int64, preview string) error
}

// MessageRepository 訊息存儲倉儲接口.
type MessageRepository interface {
	// Append 追加訊息並原子分配下一個順序鍵。
	// 同一會話的並發追加必定序列化；失敗的追加不留下任何痕跡.
	Append(ctx context.Context, conversationID, senderID, body string, kind MessageKind) (*Message, error)
	// ListSince 回傳順序鍵嚴格大於 afterSeq 的訊息，升序，最多 limit 筆.
	ListSince(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*Message, error)
	// ListBefore 回傳順序鍵嚴格小於 beforeSeq 的訊息，降序，最多 limit 筆；
	// beforeSeq ≤ 0 表示從最新訊息開始.
	ListBefore(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]*Message, error)
	// SoftDelete 軟刪除訊息：內容替換為墓碑，順序鍵與時間戳保留.
	SoftDelete(ctx context.Context, conversationID string, seq int64, senderID string) error
	// LatestSeq 回傳會話目前最大的順序鍵，無訊息時為 0.
	LatestSeq(ctx context.Context, conversationID string) (int64, error)
}

// CursorRepository 讀取/送達游標倉儲接口。
// 所有推進都是單調最大值更新，重複或亂序的確認天然安全.
type CursorRepository interface {
	// Get 取得游標，不存在時回傳零值游標.
	Get(ctx context.Context, conversationID, userID string) (*Cursor, error)
	// AdvanceDelivered 將 last_delivered_seq 推進到 max(當前值, seq).
	AdvanceDelivered(ctx context.Context, conversationID, userID string, seq int64) error
	// AdvanceRead 將 last_read_seq 推進到 max(當前值, seq)，
	// 並同步推進 last_delivered_seq（已讀蘊含已送達）.
	AdvanceRead(ctx context.Context, conversationID, userID string, seq int64) error
}

// Repositories 倉儲集合.
type Repositories struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Cursors       CursorRepository
}

package storage

import (
	"sort"
	"strings"
	"time"
)

// ConversationKind 會話類型.
type ConversationKind string

const (
	// KindDirect 一對一私聊，成員固定為兩人.
	KindDirect ConversationKind = "direct"
	// KindGroup 群組會話.
	KindGroup ConversationKind = "group"
)

// MessageKind 訊息類型.
type MessageKind string

const (
	// KindText 一般文字訊息.
	KindText MessageKind = "text"
	// KindSystem 系統訊息（加入/離開群組等）.
	KindSystem MessageKind = "system"
)

// Conversation 會話數據模型.
type Conversation struct {
	ID        string           `bson:"id" json:"id"`
	Kind      ConversationKind `bson:"kind" json:"kind"`
	MemberIDs []string         `bson:"member_ids" json:"member_ids"`
	// FormerMemberIDs 曾經在會話中、之後被移除的成員。
	// 舊成員仍可讀取歷史，但不能發送或重新加入.
	FormerMemberIDs []string `bson:"former_member_ids,omitempty" json:"-"`
	// DirectKey 私聊唯一鍵（排序後的成員對），群組為空.
	DirectKey          string    `bson:"direct_key,omitempty" json:"-"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updated_at"`
	LastMessageAt      time.Time `bson:"last_message_at" json:"last_message_at"`
	LastMessageSeq     int64     `bson:"last_message_seq" json:"last_message_seq"`
	LastMessagePreview string    `bson:"last_message_preview,omitempty" json:"last_message_preview,omitempty"`
	Deleted            bool      `bson:"deleted" json:"-"`
}

// HasMember 檢查用戶是否是現任成員.
func (c *Conversation) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// WasMember 檢查用戶是否曾經是成員（含現任）.
func (c *Conversation) WasMember(userID string) bool {
	if c.HasMember(userID) {
		return true
	}
	for _, id := range c.FormerMemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DirectKeyFor 計算私聊唯一鍵，對成員順序不敏感.
func DirectKeyFor(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// Message 訊息數據模型。
// 順序鍵 Seq 在會話內嚴格遞增且無空洞，即是訊息的 ID；
// 軟刪除保留順序鍵與時間戳，只清空內容.
type Message struct {
	ConversationID string      `bson:"conversation_id" json:"conversation_id"`
	Seq            int64       `bson:"seq" json:"seq"`
	SenderID       string      `bson:"sender_id" json:"sender_id"`
	Body           string      `bson:"body" json:"body"`
	Kind           MessageKind `bson:"kind" json:"kind"`
	CreatedAt      time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `bson:"updated_at" json:"updated_at"`
	Deleted        bool        `bson:"deleted" json:"deleted"`
}

// Tombstone 回傳軟刪除後的投影：內容清空、順序鍵與時間戳不變.
func (m *Message) Tombstone() *Message {
	t := *m
	t.Body = ""
	t.Deleted = true
	return &t
}

// Cursor 每個 (會話, 用戶) 的已讀/已送達高水位。
// 兩者皆單調不減，且 LastReadSeq ≤ LastDeliveredSeq ≤ 會話最新順序鍵.
type Cursor struct {
	ConversationID   string    `bson:"conversation_id" json:"conversation_id"`
	UserID           string    `bson:"user_id" json:"user_id"`
	LastDeliveredSeq int64     `bson:"last_delivered_seq" json:"last_delivered_seq"`
	LastReadSeq      int64     `bson:"last_read_seq" json:"last_read_seq"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}

package memory

import (
	"context"
	"time"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/errs"
	"dm-gateway/internal/platform/config"
	"dm-gateway/internal/storage"
)

// MessageStore 進程內訊息存儲.
type MessageStore struct {
	store *Store
}

// Append 追加訊息並分配下一個順序鍵。
// 寫鎖之下讀最大順序鍵、以 +1 寫入，同一會話內嚴格遞增且無空洞，
// 失敗的追加不留下任何痕跡.
func (s *MessageStore) Append(
	ctx context.Context, conversationID, senderID, body string, kind storage.MessageKind,
) (*storage.Message, error) {
	maxBytes := constants.DefaultMaxMessageBytes
	if cfg := config.Get(); cfg != nil && cfg.Limits.Message.MaxBytes > 0 {
		maxBytes = cfg.Limits.Message.MaxBytes
	}
	if len(body) > maxBytes {
		return nil, errs.ErrPayloadTooLarge
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	// 成員資格在追加當下檢查，連線建立後的成員變動因此生效
	conv, ok := s.store.conversations[conversationID]
	if !ok || conv.Deleted {
		return nil, errs.ErrConversationNotFound
	}
	if !conv.HasMember(senderID) {
		return nil, errs.ErrNotMember
	}

	var latest int64
	if msgs := s.store.messages[conversationID]; len(msgs) > 0 {
		latest = msgs[len(msgs)-1].Seq
	}

	now := time.Now().UTC()
	message := &storage.Message{
		ConversationID: conversationID,
		Seq:            latest + 1,
		SenderID:       senderID,
		Body:           body,
		Kind:           kind,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.store.messages[conversationID] = append(s.store.messages[conversationID], message)

	m := *message
	return &m, nil
}

// ListSince 回傳順序鍵嚴格大於 afterSeq 的訊息，升序.
func (s *MessageStore) ListSince(
	ctx context.Context, conversationID string, afterSeq int64, limit int,
) ([]*storage.Message, error) {
	limit = clampLimit(limit)

	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	result := []*storage.Message{}
	for _, msg := range s.store.messages[conversationID] {
		if msg.Seq <= afterSeq {
			continue
		}
		m := *msg
		result = append(result, &m)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ListBefore 回傳順序鍵嚴格小於 beforeSeq 的訊息，降序；
// beforeSeq ≤ 0 表示從最新訊息開始往回翻.
func (s *MessageStore) ListBefore(
	ctx context.Context, conversationID string, beforeSeq int64, limit int,
) ([]*storage.Message, error) {
	limit = clampLimit(limit)

	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	msgs := s.store.messages[conversationID]
	result := []*storage.Message{}
	for i := len(msgs) - 1; i >= 0; i-- {
		if beforeSeq > 0 && msgs[i].Seq >= beforeSeq {
			continue
		}
		m := *msgs[i]
		result = append(result, &m)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// SoftDelete 軟刪除訊息：內容替換為墓碑，順序鍵與時間戳保留.
func (s *MessageStore) SoftDelete(ctx context.Context, conversationID string, seq int64, senderID string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	for _, msg := range s.store.messages[conversationID] {
		if msg.Seq != seq {
			continue
		}
		if msg.SenderID != senderID {
			return errs.ErrNotMember
		}
		msg.Body = ""
		msg.Deleted = true
		msg.UpdatedAt = time.Now().UTC()
		return nil
	}
	return errs.ErrMessageNotFound
}

// LatestSeq 回傳會話目前最大的順序鍵，無訊息時為 0.
func (s *MessageStore) LatestSeq(ctx context.Context, conversationID string) (int64, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	msgs := s.store.messages[conversationID]
	if len(msgs) == 0 {
		return 0, nil
	}
	return msgs[len(msgs)-1].Seq, nil
}

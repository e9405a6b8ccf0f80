package memory

import (
	"context"
	"time"

	"dm-gateway/internal/storage"
)

// CursorStore 進程內游標存儲.
type CursorStore struct {
	store *Store
}

// Get 取得游標，不存在時回傳零值游標.
func (s *CursorStore) Get(ctx context.Context, conversationID, userID string) (*storage.Cursor, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	if cursor, ok := s.store.cursors[cursorKey(conversationID, userID)]; ok {
		c := *cursor
		return &c, nil
	}
	return &storage.Cursor{ConversationID: conversationID, UserID: userID}, nil
}

// AdvanceDelivered 將已送達水位推進到 max(當前值, seq).
func (s *CursorStore) AdvanceDelivered(ctx context.Context, conversationID, userID string, seq int64) error {
	s.advance(conversationID, userID, func(c *storage.Cursor) {
		if seq > c.LastDeliveredSeq {
			c.LastDeliveredSeq = seq
		}
	})
	return nil
}

// AdvanceRead 將已讀水位推進到 max(當前值, seq)，並同步推進已送達水位.
func (s *CursorStore) AdvanceRead(ctx context.Context, conversationID, userID string, seq int64) error {
	s.advance(conversationID, userID, func(c *storage.Cursor) {
		if seq > c.LastReadSeq {
			c.LastReadSeq = seq
		}
		if seq > c.LastDeliveredSeq {
			c.LastDeliveredSeq = seq
		}
	})
	return nil
}

func (s *CursorStore) advance(conversationID, userID string, apply func(*storage.Cursor)) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	key := cursorKey(conversationID, userID)
	cursor, ok := s.store.cursors[key]
	if !ok {
		cursor = &storage.Cursor{ConversationID: conversationID, UserID: userID}
		s.store.cursors[key] = cursor
	}
	apply(cursor)
	cursor.UpdatedAt = time.Now().UTC()
}

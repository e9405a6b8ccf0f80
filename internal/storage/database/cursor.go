package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dm-gateway/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CursorStore 讀取/送達游標存儲實作（MongoDB）。
// 推進一律走 $max：重複或亂序的確認是無操作，毋須額外鎖.
type CursorStore struct {
	collection *mongo.Collection
}

// NewCursorStore 創建新的游標存儲.
func NewCursorStore(db *mongo.Database) *CursorStore {
	return &CursorStore{
		collection: db.Collection("cursors"),
	}
}

// Get 取得游標，不存在時回傳零值游標.
func (s *CursorStore) Get(ctx context.Context, conversationID, userID string) (*storage.Cursor, error) {
	var cursor storage.Cursor
	err := s.collection.FindOne(ctx, bson.M{
		"conversation_id": conversationID,
		"user_id":         userID,
	}).Decode(&cursor)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &storage.Cursor{ConversationID: conversationID, UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	return &cursor, nil
}

// AdvanceDelivered 將 last_delivered_seq 推進到 max(當前值, seq).
func (s *CursorStore) AdvanceDelivered(ctx context.Context, conversationID, userID string, seq int64) error {
	return s.advance(ctx, conversationID, userID, bson.M{
		"last_delivered_seq": seq,
	})
}

// AdvanceRead 將 last_read_seq 推進到 max(當前值, seq)，並同步推進已送達水位.
func (s *CursorStore) AdvanceRead(ctx context.Context, conversationID, userID string, seq int64) error {
	return s.advance(ctx, conversationID, userID, bson.M{
		"last_read_seq":      seq,
		"last_delivered_seq": seq,
	})
}

func (s *CursorStore) advance(ctx context.Context, conversationID, userID string, maxFields bson.M) error {
	filter := bson.M{
		"conversation_id": conversationID,
		"user_id":         userID,
	}
	update := bson.M{
		"$max": maxFields,
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	opts := options.UpdateOne().SetUpsert(true)
	if _, err := s.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

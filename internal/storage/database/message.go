package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/errs"
	"dm-gateway/internal/platform/config"
	"dm-gateway/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessageStore 訊息存儲實作（MongoDB）.
type MessageStore struct {
	collection    *mongo.Collection
	conversations *mongo.Collection
	locks         *storage.KeyedMutex
}

// NewMessageStore 創建新的訊息存儲.
func NewMessageStore(db *mongo.Database, locks *storage.KeyedMutex) *MessageStore {
	return &MessageStore{
		collection:    db.Collection("messages"),
		conversations: db.Collection("conversations"),
		locks:         locks,
	}
}

// Append 追加訊息並分配下一個順序鍵。
// 順序鍵分配在會話鎖之下：讀最大順序鍵、以 +1 寫入，配合 (conversation_id, seq)
// 唯一索引保證同一會話內嚴格遞增且無空洞。失敗的寫入不更動任何計數，
// 追加是全有或全無的.
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

	unlock := s.locks.Lock("append:" + conversationID)
	defer unlock()

	// 成員資格在追加當下檢查，連線建立後的成員變動因此生效
	var conv storage.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"id": conversationID}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.Deleted {
		return nil, errs.ErrConversationNotFound
	}
	if !conv.HasMember(senderID) {
		return nil, errs.ErrNotMember
	}

	latest, err := s.latestSeqLocked(ctx, conversationID)
	if err != nil {
		return nil, err
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

	if _, err := s.collection.InsertOne(ctx, message); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return message, nil
}

// ListSince 回傳順序鍵嚴格大於 afterSeq 的訊息，升序.
func (s *MessageStore) ListSince(
	ctx context.Context, conversationID string, afterSeq int64, limit int,
) ([]*storage.Message, error) {
	limit = clampLimit(limit)

	filter := bson.M{
		"conversation_id": conversationID,
		"seq":             bson.M{"$gt": afterSeq},
	}

	opts := options.Find()
	opts.SetLimit(int64(limit))
	opts.SetSort(bson.D{{Key: "seq", Value: 1}})

	return s.find(ctx, filter, opts)
}

// ListBefore 回傳順序鍵嚴格小於 beforeSeq 的訊息，降序；
// beforeSeq ≤ 0 表示從最新訊息開始往回翻.
func (s *MessageStore) ListBefore(
	ctx context.Context, conversationID string, beforeSeq int64, limit int,
) ([]*storage.Message, error) {
	limit = clampLimit(limit)

	filter := bson.M{"conversation_id": conversationID}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit))
	opts.SetSort(bson.D{{Key: "seq", Value: -1}})

	return s.find(ctx, filter, opts)
}

// SoftDelete 軟刪除訊息：內容替換為墓碑，順序鍵與時間戳保留，
// 讀取端的列表長度與游標因此不受刪除影響.
func (s *MessageStore) SoftDelete(ctx context.Context, conversationID string, seq int64, senderID string) error {
	var msg storage.Message
	err := s.collection.FindOne(ctx, bson.M{"conversation_id": conversationID, "seq": seq}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg.SenderID != senderID {
		return errs.ErrNotMember
	}

	_, err = s.collection.UpdateOne(ctx,
		bson.M{"conversation_id": conversationID, "seq": seq},
		bson.M{"$set": bson.M{
			"body":       "",
			"deleted":    true,
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	return nil
}

// LatestSeq 回傳會話目前最大的順序鍵，無訊息時為 0.
func (s *MessageStore) LatestSeq(ctx context.Context, conversationID string) (int64, error) {
	return s.latestSeqLocked(ctx, conversationID)
}

func (s *MessageStore) latestSeqLocked(ctx context.Context, conversationID string) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})

	var top storage.Message
	err := s.collection.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&top)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return top.Seq, nil
}

func (s *MessageStore) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*storage.Message, error) {
	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cursorResult.Close(ctx)

	messages := []*storage.Message{}
	for cursorResult.Next(ctx) {
		var message storage.Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, &message)
	}
	return messages, nil
}

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

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationStore 會話註冊表存儲實作（MongoDB）.
type ConversationStore struct {
	collection *mongo.Collection
	locks      *storage.KeyedMutex
}

// NewConversationStore 創建新的會話存儲.
func NewConversationStore(db *mongo.Database, locks *storage.KeyedMutex) *ConversationStore {
	return &ConversationStore{
		collection: db.Collection("conversations"),
		locks:      locks,
	}
}

// GetOrCreateDirect 冪等建立私聊。
// 以排序後的成員對作為唯一鍵 upsert，同一對用戶不分參數順序永遠命中同一份文檔.
func (s *ConversationStore) GetOrCreateDirect(ctx context.Context, userA, userB string) (*storage.Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, errs.ErrInvalidMembership
	}

	now := time.Now().UTC()
	directKey := storage.DirectKeyFor(userA, userB)

	filter := bson.M{"direct_key": directKey, "deleted": false}
	update := bson.M{
		"$setOnInsert": bson.M{
			"id":              uuid.New().String(),
			"kind":            storage.KindDirect,
			"member_ids":      []string{userA, userB},
			"created_at":      now,
			"updated_at":      now,
			"last_message_at": now,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var conv storage.Conversation
	if err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv); err != nil {
		return nil, fmt.Errorf("get or create direct conversation: %w", err)
	}
	return &conv, nil
}

// CreateGroup 建立群組會話.
func (s *ConversationStore) CreateGroup(ctx context.Context, creatorID string, memberIDs []string) (*storage.Conversation, error) {
	members := dedupe(memberIDs)
	if len(members) < constants.MinGroupMembers {
		return nil, errs.ErrInvalidMembership
	}
	if !contains(members, creatorID) {
		return nil, errs.ErrInvalidMembership
	}

	maxMembers := constants.DefaultMaxGroupMembers
	if cfg := config.Get(); cfg != nil && cfg.Limits.Conversation.MaxGroupMembers > 0 {
		maxMembers = cfg.Limits.Conversation.MaxGroupMembers
	}
	if len(members) > maxMembers {
		return nil, errs.ErrInvalidMembership
	}

	now := time.Now().UTC()
	conv := &storage.Conversation{
		ID:            uuid.New().String(),
		Kind:          storage.KindGroup,
		MemberIDs:     members,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}

	if _, err := s.collection.InsertOne(ctx, conv); err != nil {
		return nil, fmt.Errorf("create group conversation: %w", err)
	}
	return conv, nil
}

// GetByID 取得會話，包含已軟刪除者.
func (s *ConversationStore) GetByID(ctx context.Context, conversationID string) (*storage.Conversation, error) {
	var conv storage.Conversation
	err := s.collection.FindOne(ctx, bson.M{"id": conversationID}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// IsMember 檢查用戶是否是現任成員.
func (s *ConversationStore) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	conv, err := s.GetByID(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if conv.Deleted {
		return false, errs.ErrConversationNotFound
	}
	return conv.HasMember(userID), nil
}

// AddMember 添加群組成員。私聊成員不可變更；舊成員不可重新加入.
func (s *ConversationStore) AddMember(ctx context.Context, conversationID, userID string) error {
	unlock := s.locks.Lock("membership:" + conversationID)
	defer unlock()

	conv, err := s.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Deleted {
		return errs.ErrConversationNotFound
	}
	if conv.Kind != storage.KindGroup {
		return errs.ErrInvalidMembership
	}
	if conv.HasMember(userID) {
		return nil
	}
	if conv.WasMember(userID) {
		return errs.ErrInvalidMembership
	}

	_, err = s.collection.UpdateOne(ctx, bson.M{"id": conversationID}, bson.M{
		"$addToSet": bson.M{"member_ids": userID},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember 移除群組成員；移除最後一名成員時軟刪除會話.
func (s *ConversationStore) RemoveMember(ctx context.Context, conversationID, userID string) error {
	unlock := s.locks.Lock("membership:" + conversationID)
	defer unlock()

	conv, err := s.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Deleted {
		return errs.ErrConversationNotFound
	}
	if conv.Kind != storage.KindGroup {
		return errs.ErrInvalidMembership
	}
	if !conv.HasMember(userID) {
		return errs.ErrNotMember
	}

	update := bson.M{
		"$pull":     bson.M{"member_ids": userID},
		"$addToSet": bson.M{"former_member_ids": userID},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}
	// 最後一名成員離開即軟刪除
	if len(conv.MemberIDs) == 1 {
		update["$set"].(bson.M)["deleted"] = true
	}

	if _, err := s.collection.UpdateOne(ctx, bson.M{"id": conversationID}, update); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// ListUserConversations 列出用戶會話，按 last_message_at 倒序、游標分頁.
func (s *ConversationStore) ListUserConversations(
	ctx context.Context, userID string, limit int, cursor string,
) (
	conversations []*storage.Conversation, nextCursor string, hasMore bool, err error,
) {
	limit = clampLimit(limit)

	filter := bson.M{
		"member_ids": userID,
		"deleted":    false,
	}

	// 游標帶 (時間戳, 會話 ID)，同一時間戳的會話按 ID 斷後，翻頁不跳過
	if cursor != "" {
		cursorTime, cursorID, parseErr := storage.DecodeListCursor(cursor)
		if parseErr != nil {
			return nil, "", false, errs.ErrInvalidCursor
		}
		filter["$or"] = []bson.M{
			{"last_message_at": bson.M{"$lt": cursorTime}},
			{"last_message_at": cursorTime, "id": bson.M{"$lt": cursorID}},
		}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "id", Value: -1}})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, fmt.Errorf("list conversations: %w", err)
	}
	defer cursorResult.Close(ctx)

	conversations = []*storage.Conversation{}
	for cursorResult.Next(ctx) {
		var conv storage.Conversation
		if err := cursorResult.Decode(&conv); err != nil {
			return nil, "", false, fmt.Errorf("decode conversation: %w", err)
		}
		conversations = append(conversations, &conv)
	}

	// 檢查是否有更多數據
	hasMore = len(conversations) > limit
	if hasMore {
		conversations = conversations[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	if hasMore && len(conversations) > 0 {
		last := conversations[len(conversations)-1]
		nextCursor = storage.EncodeListCursor(last.LastMessageAt, last.ID)
	}

	return conversations, nextCursor, hasMore, nil
}

// TouchLastMessage 推進會話的最新訊息指標。
// 過濾條件帶 last_message_seq < seq，亂序到達的更新自動落空，指標單調不減.
func (s *ConversationStore) TouchLastMessage(ctx context.Context, conversationID string, seq int64, preview string) error {
	now := time.Now().UTC()
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"id": conversationID, "last_message_seq": bson.M{"$lt": seq}},
		bson.M{"$set": bson.M{
			"last_message_seq":     seq,
			"last_message_at":      now,
			"last_message_preview": preview,
			"updated_at":           now,
		}},
	)
	if err != nil {
		return fmt.Errorf("touch last message: %w", err)
	}
	return nil
}

// dedupe 去除重複成員 ID，保留原始順序.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
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

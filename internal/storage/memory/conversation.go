package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/errs"
	"dm-gateway/internal/platform/config"
	"dm-gateway/internal/storage"
)

// ConversationStore 進程內會話存儲.
type ConversationStore struct {
	store *Store
}

// GetOrCreateDirect 冪等建立私聊。
// 以排序後的成員對作為唯一鍵，同一對用戶不分參數順序永遠命中同一個會話.
func (s *ConversationStore) GetOrCreateDirect(ctx context.Context, userA, userB string) (*storage.Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, errs.ErrInvalidMembership
	}

	directKey := storage.DirectKeyFor(userA, userB)

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if id, ok := s.store.directKeys[directKey]; ok {
		if conv, exists := s.store.conversations[id]; exists && !conv.Deleted {
			return cloneConversation(conv), nil
		}
	}

	now := time.Now().UTC()
	conv := &storage.Conversation{
		ID:            uuid.New().String(),
		Kind:          storage.KindDirect,
		MemberIDs:     []string{userA, userB},
		DirectKey:     directKey,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}

	s.store.conversations[conv.ID] = conv
	s.store.directKeys[directKey] = conv.ID
	return cloneConversation(conv), nil
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

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	s.store.conversations[conv.ID] = conv
	return cloneConversation(conv), nil
}

// GetByID 取得會話，包含已軟刪除者.
func (s *ConversationStore) GetByID(ctx context.Context, conversationID string) (*storage.Conversation, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	return s.getLocked(conversationID)
}

func (s *ConversationStore) getLocked(conversationID string) (*storage.Conversation, error) {
	conv, ok := s.store.conversations[conversationID]
	if !ok {
		return nil, errs.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
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
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	conv, ok := s.store.conversations[conversationID]
	if !ok || conv.Deleted {
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

	conv.MemberIDs = append(conv.MemberIDs, userID)
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveMember 移除群組成員；移除最後一名成員時軟刪除會話.
func (s *ConversationStore) RemoveMember(ctx context.Context, conversationID, userID string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	conv, ok := s.store.conversations[conversationID]
	if !ok || conv.Deleted {
		return errs.ErrConversationNotFound
	}
	if conv.Kind != storage.KindGroup {
		return errs.ErrInvalidMembership
	}
	if !conv.HasMember(userID) {
		return errs.ErrNotMember
	}

	remaining := make([]string, 0, len(conv.MemberIDs)-1)
	for _, id := range conv.MemberIDs {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	conv.MemberIDs = remaining
	if !contains(conv.FormerMemberIDs, userID) {
		conv.FormerMemberIDs = append(conv.FormerMemberIDs, userID)
	}
	conv.UpdatedAt = time.Now().UTC()

	// 最後一名成員離開即軟刪除
	if len(conv.MemberIDs) == 0 {
		conv.Deleted = true
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

	var cursorTime time.Time
	var cursorID string
	hasCursor := cursor != ""
	if hasCursor {
		cursorTime, cursorID, err = storage.DecodeListCursor(cursor)
		if err != nil {
			return nil, "", false, errs.ErrInvalidCursor
		}
	}

	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	matched := []*storage.Conversation{}
	for _, conv := range s.store.conversations {
		if conv.Deleted || !conv.HasMember(userID) {
			continue
		}
		// 時間戳相同時按會話 ID 斷後，與排序規則一致
		if hasCursor {
			if conv.LastMessageAt.After(cursorTime) {
				continue
			}
			if conv.LastMessageAt.Equal(cursorTime) && conv.ID >= cursorID {
				continue
			}
		}
		matched = append(matched, conv)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastMessageAt.Equal(matched[j].LastMessageAt) {
			return matched[i].LastMessageAt.After(matched[j].LastMessageAt)
		}
		return matched[i].ID > matched[j].ID
	})

	hasMore = len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}

	conversations = make([]*storage.Conversation, 0, len(matched))
	for _, conv := range matched {
		conversations = append(conversations, cloneConversation(conv))
	}

	if hasMore && len(conversations) > 0 {
		last := conversations[len(conversations)-1]
		nextCursor = storage.EncodeListCursor(last.LastMessageAt, last.ID)
	}

	return conversations, nextCursor, hasMore, nil
}

// TouchLastMessage 推進會話的最新訊息指標，單調不減.
func (s *ConversationStore) TouchLastMessage(ctx context.Context, conversationID string, seq int64, preview string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	conv, ok := s.store.conversations[conversationID]
	if !ok {
		return errs.ErrConversationNotFound
	}
	if conv.LastMessageSeq >= seq {
		return nil
	}

	now := time.Now().UTC()
	conv.LastMessageSeq = seq
	conv.LastMessageAt = now
	conv.LastMessagePreview = preview
	conv.UpdatedAt = now
	return nil
}

func cloneConversation(conv *storage.Conversation) *storage.Conversation {
	c := *conv
	c.MemberIDs = append([]string(nil), conv.MemberIDs...)
	c.FormerMemberIDs = append([]string(nil), conv.FormerMemberIDs...)
	return &c
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

// Package query 實現讀取路徑：會話列表與訊息歷史的授權檢查與分頁.
package query

import (
	"context"
	"fmt"

	"dm-gateway/internal/errs"
	"dm-gateway/internal/platform/logger"
	"dm-gateway/internal/storage"
)

// ConversationView 會話列表中的一筆，附帶該用戶的未讀數.
type ConversationView struct {
	*storage.Conversation
	UnreadCount int64 `json:"unread_count"`
}

// ConversationPage 會話列表分頁結果.
type ConversationPage struct {
	Conversations []*ConversationView `json:"conversations"`
	NextCursor    string              `json:"next_cursor,omitempty"`
	HasMore       bool                `json:"has_more"`
}

// MessagePage 訊息歷史分頁結果。NextCursor 是絕對順序鍵，
// 翻頁期間新到的訊息不會讓已讀過的頁面偏移.
type MessagePage struct {
	Messages   []*storage.Message `json:"messages"`
	NextCursor int64              `json:"next_cursor,omitempty"`
	HasMore    bool               `json:"has_more"`
}

// Service 讀取查詢服務.
type Service struct {
	repos *storage.Repositories
}

// NewService 創建新的查詢服務.
func NewService(repos *storage.Repositories) *Service {
	return &Service{repos: repos}
}

// ListConversations 列出用戶的會話，附帶每個會話的未讀數。
// 未讀數 = 會話最新順序鍵 - 用戶已讀水位.
func (s *Service) ListConversations(ctx context.Context, userID string, limit int, cursor string) (*ConversationPage, error) {
	conversations, nextCursor, hasMore, err := s.repos.Conversations.ListUserConversations(ctx, userID, limit, cursor)
	if err != nil {
		return nil, err
	}

	views := make([]*ConversationView, 0, len(conversations))
	for _, conv := range conversations {
		view := &ConversationView{Conversation: conv}

		userCursor, err := s.repos.Cursors.Get(ctx, conv.ID, userID)
		if err != nil {
			logger.Warningf(ctx, "讀取游標失敗，未讀數退化為 0: %v", err)
		} else if conv.LastMessageSeq > userCursor.LastReadSeq {
			view.UnreadCount = conv.LastMessageSeq - userCursor.LastReadSeq
		}

		views = append(views, view)
	}

	return &ConversationPage{
		Conversations: views,
		NextCursor:    nextCursor,
		HasMore:       hasMore,
	}, nil
}

// GetConversation 取得單一會話，要求讀取者是現任或前任成員.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*storage.Conversation, error) {
	conv, err := s.repos.Conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.WasMember(userID) {
		return nil, errs.ErrNotMember
	}
	return conv, nil
}

// ListMessages 讀取訊息歷史。
//   - forward：回傳順序鍵嚴格大於 cursor 的訊息，升序；cursor 為 0 表示
//     從第一則訊息開始；
//   - 否則向後翻頁，回傳順序鍵嚴格小於 cursor 的訊息，降序；
//     cursor ≤ 0 表示從最新訊息開始。
//
// 前任成員保留歷史的讀取權，新訊息與發送權在移除當下即失效.
func (s *Service) ListMessages(
	ctx context.Context, conversationID, userID string, forward bool, cursor int64, limit int,
) (*MessagePage, error) {
	conv, err := s.repos.Conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.WasMember(userID) {
		return nil, errs.ErrNotMember
	}

	var messages []*storage.Message
	if forward {
		messages, err = s.repos.Messages.ListSince(ctx, conversationID, cursor, limit)
	} else {
		messages, err = s.repos.Messages.ListBefore(ctx, conversationID, cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	page := &MessagePage{Messages: messages}
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		page.NextCursor = last.Seq
		if forward {
			latest, err := s.repos.Messages.LatestSeq(ctx, conversationID)
			if err == nil && last.Seq < latest {
				page.HasMore = true
			}
		} else {
			page.HasMore = last.Seq > 1
		}
	}

	return page, nil
}

// UnreadCount 回傳用戶在會話中的未讀數.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return 0, err
	}

	latest, err := s.repos.Messages.LatestSeq(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	cursor, err := s.repos.Cursors.Get(ctx, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	if latest <= cursor.LastReadSeq {
		return 0, nil
	}
	return latest - cursor.LastReadSeq, nil
}

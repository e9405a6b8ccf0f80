// Package delivery 實現訊息投遞協調：追加、扇出、游標確認與輸入中通知。
// 協調器是寫入路徑的唯一入口，HTTP 與 WebSocket 端點都經過它.
package delivery

import (
	"context"
	"fmt"
	"time"

	"dm-gateway/internal/audit"
	"dm-gateway/internal/constants"
	"dm-gateway/internal/errs"
	"dm-gateway/internal/platform/config"
	"dm-gateway/internal/platform/logger"
	"dm-gateway/internal/presence"
	"dm-gateway/internal/push"
	"dm-gateway/internal/storage"
)

// 訊息預覽最大長度（會話列表顯示用）
const previewMaxRunes = 80

// Coordinator 投遞協調器.
type Coordinator struct {
	repos   *storage.Repositories
	hub     *push.Hub
	tracker *presence.Tracker
	auditor *audit.Service

	// fanout 按會話序列化「追加 + 發佈」，確保推送順序與順序鍵一致
	fanout *storage.KeyedMutex
}

// NewCoordinator 創建新的投遞協調器.
func NewCoordinator(repos *storage.Repositories, hub *push.Hub, tracker *presence.Tracker, auditor *audit.Service) *Coordinator {
	return &Coordinator{
		repos:   repos,
		hub:     hub,
		tracker: tracker,
		auditor: auditor,
		fanout:  storage.NewKeyedMutex(),
	}
}

// Send 發送訊息：追加到存儲、推進發送者游標、更新會話指標、向在線成員扇出。
// 追加失敗時按配置重試，重試額度耗盡回報 ErrUnavailable，
// 發送者收到明確失敗，不會出現「不確定是否送出」的狀態.
func (c *Coordinator) Send(ctx context.Context, conversationID, senderID, body string) (*storage.Message, error) {
	unlock := c.fanout.Lock("deliver:" + conversationID)
	defer unlock()

	message, err := c.appendWithRetry(ctx, conversationID, senderID, body, storage.KindText)
	if err != nil {
		return nil, err
	}

	c.afterAppend(ctx, message)
	c.auditor.LogMessageSent(ctx, senderID, conversationID, message.Seq)
	return message, nil
}

// sendSystem 追加系統訊息並扇出。調用方必須確保 senderID 此刻仍是成員.
func (c *Coordinator) sendSystem(ctx context.Context, conversationID, senderID, body string) {
	unlock := c.fanout.Lock("deliver:" + conversationID)
	defer unlock()

	message, err := c.appendWithRetry(ctx, conversationID, senderID, body, storage.KindSystem)
	if err != nil {
		logger.Errorf(ctx, "追加系統訊息失敗: %v", err)
		return
	}
	c.afterAppend(ctx, message)
}

// afterAppend 追加成功後的收尾：游標、會話指標與扇出.
func (c *Coordinator) afterAppend(ctx context.Context, message *storage.Message) {
	// 發送者自己的訊息視為已讀
	if err := c.repos.Cursors.AdvanceRead(ctx, message.ConversationID, message.SenderID, message.Seq); err != nil {
		logger.Errorf(ctx, "推進發送者游標失敗: %v", err)
	}

	if err := c.repos.Conversations.TouchLastMessage(ctx, message.ConversationID, message.Seq, preview(message.Body)); err != nil {
		logger.Errorf(ctx, "更新會話最新訊息指標失敗: %v", err)
	}

	conv, err := c.repos.Conversations.GetByID(ctx, message.ConversationID)
	if err != nil {
		logger.Errorf(ctx, "扇出前載入會話失敗: %v", err)
		return
	}

	c.hub.Publish(conv.MemberIDs, push.Event{
		Type:           push.EventMessage,
		ConversationID: message.ConversationID,
		Message:        message,
	})
}

// appendWithRetry 帶重試的追加。客戶端錯誤（非成員、內容過大等）立即回報，
// 只有暫時性存儲故障才重試.
func (c *Coordinator) appendWithRetry(
	ctx context.Context, conversationID, senderID, body string, kind storage.MessageKind,
) (*storage.Message, error) {
	retries := constants.DefaultAppendRetries
	backoff := time.Duration(constants.DefaultAppendBackoffMS) * time.Millisecond
	if cfg := config.Get(); cfg != nil {
		if cfg.Limits.Delivery.AppendRetries > 0 {
			retries = cfg.Limits.Delivery.AppendRetries
		}
		if cfg.Limits.Delivery.AppendBackoffMS > 0 {
			backoff = time.Duration(cfg.Limits.Delivery.AppendBackoffMS) * time.Millisecond
		}
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}

		message, err := c.repos.Messages.Append(ctx, conversationID, senderID, body, kind)
		if err == nil {
			return message, nil
		}
		if errs.IsClientError(err) {
			return nil, err
		}
		lastErr = err
		logger.Warningf(ctx, "追加訊息失敗（第 %d 次重試）: %v", attempt+1, err)
	}

	return nil, fmt.Errorf("%w: %v", errs.ErrUnavailable, lastErr)
}

// AcknowledgeRead 推進已讀水位。uptoSeq 必須指向會話中存在的順序鍵，
// 否則回報 ErrInvalidCursor；重複或亂序的確認因單調最大值更新而天然安全.
func (c *Coordinator) AcknowledgeRead(ctx context.Context, conversationID, userID string, uptoSeq int64) error {
	conv, err := c.memberOnly(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if err := c.validateSeq(ctx, conversationID, uptoSeq); err != nil {
		return err
	}

	if err := c.repos.Cursors.AdvanceRead(ctx, conversationID, userID, uptoSeq); err != nil {
		return fmt.Errorf("advance read cursor: %w", err)
	}

	c.hub.Publish(othersOf(conv, userID), push.Event{
		Type:           push.EventRead,
		ConversationID: conversationID,
		UserID:         userID,
		Seq:            uptoSeq,
	})
	c.auditor.LogReadAck(ctx, userID, conversationID, uptoSeq)
	return nil
}

// AcknowledgeDelivered 推進已送達水位，校驗規則與已讀相同.
func (c *Coordinator) AcknowledgeDelivered(ctx context.Context, conversationID, userID string, uptoSeq int64) error {
	if _, err := c.memberOnly(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := c.validateSeq(ctx, conversationID, uptoSeq); err != nil {
		return err
	}

	if err := c.repos.Cursors.AdvanceDelivered(ctx, conversationID, userID, uptoSeq); err != nil {
		return fmt.Errorf("advance delivered cursor: %w", err)
	}
	return nil
}

// NotifyTyping 標記用戶輸入中並轉發給其他在線成員。TTL 後自動過期.
func (c *Coordinator) NotifyTyping(ctx context.Context, conversationID, userID string) error {
	conv, err := c.memberOnly(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	c.tracker.SetTyping(conversationID, userID)
	c.hub.Publish(othersOf(conv, userID), push.Event{
		Type:           push.EventTyping,
		ConversationID: conversationID,
		UserID:         userID,
	})
	return nil
}

// DeleteMessage 軟刪除自己發送的訊息並通知成員.
func (c *Coordinator) DeleteMessage(ctx context.Context, conversationID string, seq int64, userID string) error {
	conv, err := c.memberOnly(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	if err := c.repos.Messages.SoftDelete(ctx, conversationID, seq, userID); err != nil {
		return err
	}

	c.hub.Publish(conv.MemberIDs, push.Event{
		Type:           push.EventMessageDeleted,
		ConversationID: conversationID,
		UserID:         userID,
		Seq:            seq,
	})
	c.auditor.LogMessageDeleted(ctx, userID, conversationID, seq)
	return nil
}

// AddMember 由現任成員把新用戶加進群組，成功後追加系統訊息.
func (c *Coordinator) AddMember(ctx context.Context, conversationID, actorID, userID string) error {
	if _, err := c.memberOnly(ctx, conversationID, actorID); err != nil {
		return err
	}

	if err := c.repos.Conversations.AddMember(ctx, conversationID, userID); err != nil {
		return err
	}

	c.sendSystem(ctx, conversationID, userID, fmt.Sprintf("%s 加入了會話", userID))

	conv, err := c.repos.Conversations.GetByID(ctx, conversationID)
	if err == nil {
		c.hub.Publish(conv.MemberIDs, push.Event{
			Type:           push.EventMembership,
			ConversationID: conversationID,
			UserID:         userID,
		})
	}
	c.auditor.LogMemberAdded(ctx, actorID, conversationID, userID)
	return nil
}

// RemoveMember 把成員移出群組。成員可以自行離開；移除他人需要是現任成員。
// 系統訊息在移除之前追加，此刻離開者仍是成員.
func (c *Coordinator) RemoveMember(ctx context.Context, conversationID, actorID, userID string) error {
	if _, err := c.memberOnly(ctx, conversationID, actorID); err != nil {
		return err
	}
	if actorID != userID {
		if isMember, err := c.repos.Conversations.IsMember(ctx, conversationID, userID); err != nil {
			return err
		} else if !isMember {
			return errs.ErrNotMember
		}
	}

	c.sendSystem(ctx, conversationID, userID, fmt.Sprintf("%s 離開了會話", userID))

	if err := c.repos.Conversations.RemoveMember(ctx, conversationID, userID); err != nil {
		return err
	}

	conv, err := c.repos.Conversations.GetByID(ctx, conversationID)
	if err == nil {
		c.hub.Publish(conv.MemberIDs, push.Event{
			Type:           push.EventMembership,
			ConversationID: conversationID,
			UserID:         userID,
		})
	}
	c.auditor.LogMemberRemoved(ctx, actorID, conversationID, userID)
	return nil
}

// memberOnly 載入會話並要求 userID 是現任成員.
func (c *Coordinator) memberOnly(ctx context.Context, conversationID, userID string) (*storage.Conversation, error) {
	conv, err := c.repos.Conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Deleted {
		return nil, errs.ErrConversationNotFound
	}
	if !conv.HasMember(userID) {
		return nil, errs.ErrNotMember
	}
	return conv, nil
}

// validateSeq 校驗游標確認指向的順序鍵確實存在.
func (c *Coordinator) validateSeq(ctx context.Context, conversationID string, seq int64) error {
	if seq < 1 {
		return errs.ErrInvalidCursor
	}
	latest, err := c.repos.Messages.LatestSeq(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("latest seq: %w", err)
	}
	if seq > latest {
		return errs.ErrInvalidCursor
	}
	return nil
}

func othersOf(conv *storage.Conversation, userID string) []string {
	others := make([]string, 0, len(conv.MemberIDs))
	for _, id := range conv.MemberIDs {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// preview 裁剪訊息內容作為會話列表的預覽.
func preview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewMaxRunes {
		return body
	}
	return string(runes[:previewMaxRunes]) + "…"
}

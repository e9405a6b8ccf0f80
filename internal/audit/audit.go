// Package audit 記錄安全與合規相關的操作軌跡.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"dm-gateway/internal/platform/middleware"
)

// Service 審計服務
type Service struct {
	enabled bool
	logger  *log.Logger
}

// NewService 創建審計服務
func NewService(enabled bool) *Service {
	return &Service{
		enabled: enabled,
		logger:  log.Default(),
	}
}

// Event 審計事件
type Event struct {
	Timestamp      time.Time              `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	MessageSeq     string                 `json:"message_seq,omitempty"`
	Action         string                 `json:"action"`
	Result         string                 `json:"result"` // success, failure, denied
	Details        map[string]interface{} `json:"details,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
}

// LogConversationCreated 記錄會話創建
func (a *Service) LogConversationCreated(ctx context.Context, userID, conversationID, kind string) {
	if !a.enabled {
		return
	}

	event := Event{
		Timestamp:      time.Now(),
		EventType:      "conversation_created",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "create_conversation",
		Result:         "success",
		Details: map[string]interface{}{
			"kind": kind,
		},
	}

	a.enrichWithMetadata(ctx, &event)
	a.log(event)
}

// LogMessageSent 記錄訊息發送
func (a *Service) LogMessageSent(ctx context.Context, userID, conversationID string, seq int64) {
	if !a.enabled {
		return
	}

	event := Event{
		Timestamp:      time.Now(),
		EventType:      "message_sent",
		UserID:         userID,
		ConversationID: conversationID,
		MessageSeq:     strconv.FormatInt(seq, 10),
		Action:         "send_message",
		Result:         "success",
	}

	a.log(event)
}

// LogMessageDeleted 記錄訊息軟刪除
func (a *Service) LogMessageDeleted(ctx context.Context, userID, conversationID string, seq int64) {
	if !a.enabled {
		return
	}

	event := Event{
		Timestamp:      time.Now(),
		EventType:      "message_deleted",
		UserID:         userID,
		ConversationID: conversationID,
		MessageSeq:     strconv.FormatInt(seq, 10),
		Action:         "delete_message",
		Result:         "success",
	}

	a.log(event)
}

// LogReadAck 記錄已讀確認
func (a *Service) LogReadAck(ctx context.Context, userID, conversationID string, uptoSeq int64) {
	if !a.enabled {
		return
	}

	event := Event{
		Timestamp:      time.Now(),
		EventType:      "read_ack",
		UserID:         userID,
		ConversationID: conversationID,
		MessageSeq:     strconv.FormatInt(uptoSeq, 10),
		Action:         "acknowledge_read",
		Result:         "success",
	}

	a.log(event)
}

// LogMemberAdded 記錄添加成員
func (a *Service) LogMemberAdded(ctx context.Context, operatorID, conversationID, memberID string) {
	if !a.enabled {
		return
	}

	event := Event{
		Timestamp:      time.Now(),
		EventType:      "member_added",
		UserID:         operatorID,
		ConversationID: conversationID,
		Action:         "add_member",
		Result:         "success",
		Details: map[string]interface{}{
			"member_id": memberID,
		},
	}

	a.enrichWithMetadata(ctx, &event)
	a.log(event)
}

// LogMemberRemoved 記錄移除成員
func (a *Service) LogMemberRemoved(ctx context.Context, operatorID, conversationID, memberID string) {
	if !a.enabled {
		return
	}

	event := Event{
		Timestamp:      time.Now(),
		EventType:      "member_removed",
		UserID:         operatorID,
		ConversationID: conversationID,
		Action:         "remove_member",
		Result:         "success",
		Details: map[string]interface{}{
			"member_id": memberID,
		},
	}

	a.enrichWithMetadata(ctx, &event)
	a.log(event)
}

// LogAuthenticationFailure 記錄認證失敗
func (a *Service) LogAuthenticationFailure(ctx context.Context, userID, reason string) {
	if !a.enabled {
		return
	}

	event := Event{
		Timestamp: time.Now(),
		EventType: "authentication",
		UserID:    userID,
		Action:    "authenticate",
		Result:    "failure",
		Details: map[string]interface{}{
			"reason": reason,
		},
	}

	a.enrichWithMetadata(ctx, &event)
	a.log(event)
}

// LogAccessDenied 記錄訪問被拒絕
func (a *Service) LogAccessDenied(ctx context.Context, userID, conversationID, reason string) {
	if !a.enabled {
		return
	}

	event := Event{
		Timestamp:      time.Now(),
		EventType:      "access_denied",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "access_resource",
		Result:         "denied",
		Details: map[string]interface{}{
			"reason": reason,
		},
	}

	a.enrichWithMetadata(ctx, &event)
	a.log(event)
}

// log 記錄審計事件
func (a *Service) log(event Event) {
	// 轉換為 JSON
	jsonData, err := json.Marshal(event)
	if err != nil {
		a.logger.Printf("[AUDIT-ERROR] Failed to marshal event: %v", err)
		return
	}

	// 記錄到日誌
	a.logger.Printf("[AUDIT] %s", string(jsonData))
}

// IsEnabled 檢查審計是否啟用
func (a *Service) IsEnabled() bool {
	return a.enabled
}

// enrichWithMetadata 從 context 提取元數據並豐富審計事件
func (a *Service) enrichWithMetadata(ctx context.Context, event *Event) {
	meta := middleware.GetRequestMetadata(ctx)
	event.IPAddress = meta.IPAddress
	event.UserAgent = meta.UserAgent
}

package server

import (
	"time"

	"dm-gateway/internal/httputil"
	"dm-gateway/internal/platform/config"
	"dm-gateway/internal/platform/middleware"
	"dm-gateway/internal/push"

	"github.com/gin-gonic/gin"
)

// streamConversation 使用 SSE 流式推送單一會話的事件。
// 訂閱掛在進程內 Hub 上，與 WebSocket 共用同一條扇出路徑；
// 只轉發屬於該會話的事件.
func (h *handlers) streamConversation(c *gin.Context) {
	userID := middleware.GetUserID(c)
	conversationID := c.Param("conversation_id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	// 訂閱前確認成員資格
	isMember, err := h.deps.Repos.Conversations.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	if !isMember {
		httputil.Forbidden(c, "")
		return
	}

	setupSSEHeaders(c)

	sub := h.deps.Hub.Subscribe(userID)
	defer h.deps.Hub.Unsubscribe(sub)

	h.deps.Tracker.SetOnline(userID)
	defer h.deps.Tracker.SetOffline(userID)

	handleSSELoop(c, conversationID, sub)
}

// setupSSEHeaders 設置 SSE headers
func setupSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"status": "ok"})
	c.Writer.Flush()
}

// handleSSELoop 處理 SSE 循環
func handleSSELoop(c *gin.Context, conversationID string, sub *push.Subscriber) {
	cfg := config.Get()
	heartbeatInterval := 15
	if cfg != nil && cfg.Limits.SSE.HeartbeatInterval > 0 {
		heartbeatInterval = cfg.Limits.SSE.HeartbeatInterval
	}

	ticker := time.NewTicker(time.Duration(heartbeatInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case <-ticker.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().Unix()})
			c.Writer.Flush()

		case event, ok := <-sub.C():
			if !ok {
				return
			}
			// 訂閱是用戶級的，這裡只轉發該會話的事件
			if event.ConversationID != conversationID {
				continue
			}
			c.SSEvent(string(event.Type), event)
			c.Writer.Flush()
		}
	}
}

package server

import (
	"net/http"
	"time"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/platform/logger"
	"dm-gateway/internal/platform/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{"bearer"},
	CheckOrigin: func(r *http.Request) bool {
		// 瀏覽器以外的客戶端沒有 Origin；瀏覽器來源走 CORS 同一份白名單
		origin := r.Header.Get("Origin")
		return origin == "" || originAllowed(origin)
	},
}

// 客戶端經 WebSocket 上行的幀
type wsInbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	UptoMessageSeq int64  `json:"upto_message_seq"`
}

// serveWebSocket 推送 WebSocket 端點。
// 下行：訂閱該用戶所有會話的事件；上行支持 send / ack_read /
// ack_delivered / typing 幀。連線生命週期驅動在線狀態.
func (h *handlers) serveWebSocket(c *gin.Context) {
	userID := middleware.GetUserID(c)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.deps.Hub.Subscribe(userID)
	defer h.deps.Hub.Unsubscribe(sub)

	h.deps.Tracker.SetOnline(userID)
	defer h.deps.Tracker.SetOffline(userID)

	done := make(chan struct{})

	// 寫循環：把訂閱到的事件推給客戶端
	go func() {
		defer close(done)
		writeTimeout := time.Duration(constants.DefaultWSWriteTimeoutSeconds) * time.Second
		for event := range sub.C() {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}()

	// 讀循環：處理客戶端上行幀
	ctx := c.Request.Context()
	for {
		var frame wsInbound
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}

		switch frame.Type {
		case "send":
			message, err := h.deps.Coordinator.Send(ctx, frame.ConversationID, userID, frame.Body)
			if err != nil {
				wsError(conn, err.Error())
				continue
			}
			// 回執讓發送端拿到分配的順序鍵
			_ = conn.WriteJSON(gin.H{
				"type":            "sent",
				"conversation_id": message.ConversationID,
				"seq":             message.Seq,
			})

		case "ack_read":
			if err := h.deps.Coordinator.AcknowledgeRead(ctx, frame.ConversationID, userID, frame.UptoMessageSeq); err != nil {
				wsError(conn, err.Error())
			}

		case "ack_delivered":
			if err := h.deps.Coordinator.AcknowledgeDelivered(ctx, frame.ConversationID, userID, frame.UptoMessageSeq); err != nil {
				wsError(conn, err.Error())
			}

		case "typing":
			if err := h.deps.Coordinator.NotifyTyping(ctx, frame.ConversationID, userID); err != nil {
				wsError(conn, err.Error())
			}

		default:
			logger.LogWarnf("未知的 WebSocket 幀類型: %s (user=%s)", frame.Type, userID)
		}
	}

	// 先取消訂閱（關閉事件通道）讓寫循環退出，再等它收尾；
	// 順序反了會互相等待：寫循環停在空通道上，通道又要等本函數返回才關
	h.deps.Hub.Unsubscribe(sub)
	conn.Close()
	<-done
}

func wsError(conn *websocket.Conn, message string) {
	_ = conn.WriteJSON(gin.H{
		"type":  "error",
		"error": message,
	})
}

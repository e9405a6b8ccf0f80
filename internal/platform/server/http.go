package server

import (
	"strconv"
	"time"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/errs"
	"dm-gateway/internal/httputil"
	"dm-gateway/internal/platform/config"
	"dm-gateway/internal/platform/health"
	"dm-gateway/internal/platform/middleware"
	"dm-gateway/internal/storage"

	"github.com/gin-gonic/gin"
)

// 允許的瀏覽器來源（生產環境應該從配置文件讀取）。
// CORS 響應頭與 WebSocket 升級共用同一份白名單
var allowedOrigins = map[string]bool{
	"http://localhost:3000": true, // 開發環境前端
	"http://localhost:8080": true, // 本地測試
	"http://127.0.0.1:8080": true, // 本地測試 (127.0.0.1)
}

func originAllowed(origin string) bool {
	return allowedOrigins[origin]
}

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 啟用 XSS 保護
		c.Header("X-XSS-Protection", "1; mode=block")

		// 內容安全策略
		c.Header("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; font-src 'self'; connect-src 'self'; frame-ancestors 'none';")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// 權限政策
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		c.Next()
	}
}

// Router 設定路由
func Router(deps *Deps) *gin.Engine {
	r := gin.Default()

	// 添加安全的 CORS 中間件
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400") // 預檢請求緩存 24 小時

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	// 添加安全標頭中間件
	r.Use(securityHeadersMiddleware())

	// 從配置讀取限制參數
	cfg := config.Get()

	// 添加請求大小限制（防止大請求攻擊）
	maxBodySize := int64(1 << 20) // 默認 1MB
	if cfg != nil && cfg.Limits.Request.MaxBodySize > 0 {
		maxBodySize = cfg.Limits.Request.MaxBodySize
	}
	r.Use(middleware.RequestSizeLimiter(maxBodySize))

	// 創建 Rate Limiter
	defaultLimit := constants.DefaultRateLimitPerMinute
	if cfg != nil && cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	rateLimiter := middleware.NewPerEndpointRateLimiter(defaultLimit, time.Minute)

	// 為不同端點設置不同的速率限制（路由模板為鍵）
	if cfg != nil && cfg.Limits.RateLimiting.Enabled {
		conversationsLimit := constants.DefaultConversationRateLim
		if cfg.Limits.RateLimiting.ConversationsPerMin > 0 {
			conversationsLimit = cfg.Limits.RateLimiting.ConversationsPerMin
		}
		rateLimiter.SetLimit("/api/v1/conversations", conversationsLimit, time.Minute)

		messagesLimit := constants.DefaultMessageRateLimit
		if cfg.Limits.RateLimiting.MessagesPerMin > 0 {
			messagesLimit = cfg.Limits.RateLimiting.MessagesPerMin
		}
		rateLimiter.SetLimit("/api/v1/conversations/:conversation_id/messages", messagesLimit, time.Minute)

		streamLimit := constants.DefaultStreamRateLimit
		if cfg.Limits.RateLimiting.StreamPerMin > 0 {
			streamLimit = cfg.Limits.RateLimiting.StreamPerMin
		}
		rateLimiter.SetLimit("/api/v1/conversations/:conversation_id/stream", streamLimit, time.Minute)
	}

	// 應用 Rate Limiting 中間件
	r.Use(rateLimiter.Middleware())

	// 創建 SSE 連接限制器
	sseMaxPerIP := constants.DefaultSSEMaxConnectionsPerIP
	sseInterval := constants.DefaultSSEMinConnectionInterval
	sseMaxTotal := constants.DefaultSSEMaxTotalConnections
	if cfg != nil {
		if cfg.Limits.SSE.MaxConnectionsPerIP > 0 {
			sseMaxPerIP = cfg.Limits.SSE.MaxConnectionsPerIP
		}
		if cfg.Limits.SSE.MinConnectionInterval > 0 {
			sseInterval = cfg.Limits.SSE.MinConnectionInterval
		}
		if cfg.Limits.SSE.MaxTotalConnections > 0 {
			sseMaxTotal = cfg.Limits.SSE.MaxTotalConnections
		}
	}
	sseLimiter := middleware.NewSSEConnectionLimiter(sseMaxPerIP, time.Duration(sseInterval)*time.Second, sseMaxTotal)

	// 創建處理器
	healthHandler := health.NewHealthHandler()
	h := &handlers{deps: deps}

	// health check
	r.GET("/health", healthHandler.HealthCheck)

	// 所有 API 路由都要求已驗證身份
	api := r.Group("/api/v1")
	api.Use(deps.Auth.RequireAuth())
	api.Use(middleware.RequestMetadataMiddleware())
	{
		api.POST("/conversations", h.createConversation)
		api.GET("/conversations", h.listConversations)
		api.GET("/conversations/:conversation_id", h.getConversation)
		api.POST("/conversations/:conversation_id/messages", h.sendMessage)
		api.GET("/conversations/:conversation_id/messages", h.getMessages)
		api.POST("/conversations/:conversation_id/ack", h.acknowledge)
		api.DELETE("/conversations/:conversation_id/messages/:seq", h.deleteMessage)
		api.POST("/conversations/:conversation_id/members", h.addMember)
		api.DELETE("/conversations/:conversation_id/members/:user_id", h.removeMember)

		// SSE endpoint - 應用額外的連接限制
		api.GET("/conversations/:conversation_id/stream", sseLimiter.Middleware(), h.streamConversation)
	}

	// WebSocket 推送端點
	r.GET("/ws", deps.Auth.RequireAuth(), h.serveWebSocket)

	return r
}

type handlers struct {
	deps *Deps
}

// createConversation 建立會話：direct 冪等建立私聊，group 建立群組
func (h *handlers) createConversation(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req struct {
		Kind      string   `json:"kind"`
		PeerID    string   `json:"peer_id"`
		MemberIDs []string `json:"member_ids"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	var conv *storage.Conversation
	var err error

	switch req.Kind {
	case "", string(storage.KindDirect):
		if validateErr := middleware.ValidateUserID(req.PeerID); validateErr != nil {
			httputil.BadRequest(c, validateErr.Error())
			return
		}
		conv, err = h.deps.Repos.Conversations.GetOrCreateDirect(c.Request.Context(), userID, req.PeerID)

	case string(storage.KindGroup):
		members := req.MemberIDs
		// 建立者永遠是成員
		if !containsID(members, userID) {
			members = append(members, userID)
		}
		for _, id := range members {
			if validateErr := middleware.ValidateUserID(id); validateErr != nil {
				httputil.BadRequest(c, "成員 ID 格式錯誤")
				return
			}
		}
		conv, err = h.deps.Repos.Conversations.CreateGroup(c.Request.Context(), userID, members)

	default:
		httputil.BadRequest(c, "未知的會話類型")
		return
	}

	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	h.deps.Audit.LogConversationCreated(c.Request.Context(), userID, conv.ID, string(conv.Kind))

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataCreated,
		"data":    conv,
	})
}

// listConversations 列出會話，按最新訊息時間倒序，附帶未讀數
func (h *handlers) listConversations(c *gin.Context) {
	userID := middleware.GetUserID(c)

	limit := parseLimit(c.Query("limit"))
	cursor := c.Query("cursor")

	page, err := h.deps.Query.ListConversations(c.Request.Context(), userID, limit, cursor)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success":  true,
		"message":  httputil.DataRetrieved,
		"data":     page.Conversations,
		"cursor":   page.NextCursor,
		"has_more": page.HasMore,
	})
}

// getConversation 取得單一會話
func (h *handlers) getConversation(c *gin.Context) {
	userID := middleware.GetUserID(c)
	conversationID := c.Param("conversation_id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	conv, err := h.deps.Query.GetConversation(c.Request.Context(), conversationID, userID)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataRetrieved,
		"data":    conv,
	})
}

// sendMessage 發送訊息
func (h *handlers) sendMessage(c *gin.Context) {
	userID := middleware.GetUserID(c)
	conversationID := c.Param("conversation_id")

	var req struct {
		Body string `json:"body"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateMessageBody(req.Body); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	// 消毒輸入內容
	sanitizedBody := middleware.SanitizeInput(req.Body)

	message, err := h.deps.Coordinator.Send(c.Request.Context(), conversationID, userID, sanitizedBody)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataCreated,
		"data":    message,
	})
}

// getMessages 讀取訊息歷史。direction=forward 從 cursor 往後（升序），
// cursor 為 0 或缺省時從第一則訊息開始；默認 backward 從 cursor
// （缺省為最新）往前（降序）
func (h *handlers) getMessages(c *gin.Context) {
	userID := middleware.GetUserID(c)
	conversationID := c.Param("conversation_id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	var cursor int64
	if cursorStr := c.Query("cursor"); cursorStr != "" {
		parsed, err := strconv.ParseInt(cursorStr, 10, 64)
		if err != nil || parsed < 0 {
			httputil.DomainError(c, errs.ErrInvalidCursor)
			return
		}
		cursor = parsed
	}

	limit := parseLimit(c.Query("limit"))
	forward := c.Query("direction") == "forward"

	page, err := h.deps.Query.ListMessages(c.Request.Context(), conversationID, userID, forward, cursor, limit)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success":     true,
		"message":     httputil.DataRetrieved,
		"data":        page.Messages,
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}

// acknowledge 推進已讀（默認）或已送達水位
func (h *handlers) acknowledge(c *gin.Context) {
	userID := middleware.GetUserID(c)
	conversationID := c.Param("conversation_id")

	var req struct {
		UptoMessageSeq int64  `json:"upto_message_seq"`
		Type           string `json:"type"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	var err error
	switch req.Type {
	case "", "read":
		err = h.deps.Coordinator.AcknowledgeRead(c.Request.Context(), conversationID, userID, req.UptoMessageSeq)
	case "delivered":
		err = h.deps.Coordinator.AcknowledgeDelivered(c.Request.Context(), conversationID, userID, req.UptoMessageSeq)
	default:
		httputil.BadRequest(c, "未知的確認類型")
		return
	}

	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataUpdated,
	})
}

// deleteMessage 軟刪除自己發送的訊息
func (h *handlers) deleteMessage(c *gin.Context) {
	userID := middleware.GetUserID(c)
	conversationID := c.Param("conversation_id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		httputil.BadRequest(c, "無效的順序鍵")
		return
	}

	if err := h.deps.Coordinator.DeleteMessage(c.Request.Context(), conversationID, seq, userID); err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataDeleted,
	})
}

// addMember 添加群組成員
func (h *handlers) addMember(c *gin.Context) {
	userID := middleware.GetUserID(c)
	conversationID := c.Param("conversation_id")

	var req struct {
		UserID string `json:"user_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := h.deps.Coordinator.AddMember(c.Request.Context(), conversationID, userID, req.UserID); err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataUpdated,
	})
}

// removeMember 移除群組成員（可以是自己）
func (h *handlers) removeMember(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	conversationID := c.Param("conversation_id")
	targetID := c.Param("user_id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	if err := middleware.ValidateUserID(targetID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if err := h.deps.Coordinator.RemoveMember(c.Request.Context(), conversationID, actorID, targetID); err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataUpdated,
	})
}

// parseLimit 解析 limit 參數，0 表示使用配置的默認值
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

package middleware

import (
	"net/http"
	"sync"
	"time"

	"dm-gateway/internal/constants"

	"github.com/gin-gonic/gin"
)

// SSEConnectionLimiter 長連接（SSE 流）限制器。
// 按已驗證的用戶 ID 計數；未經認證的路徑退回客戶端 IP.
type SSEConnectionLimiter struct {
	mu                sync.RWMutex
	connections       map[string]int       // 用戶/IP -> 連接數
	lastConnect       map[string]time.Time // 用戶/IP -> 最後連接時間
	maxPerClient      int                  // 單一用戶最大連接數
	minInterval       time.Duration        // 最小連接間隔
	cleanupInterval   time.Duration        // 清理間隔
	maxTotalConns     int                  // 全局最大連接數
	currentTotalConns int                  // 當前總連接數
}

// NewSSEConnectionLimiter 創建連接限制器，非正值參數退回默認值
func NewSSEConnectionLimiter(maxPerClient int, minInterval time.Duration, maxTotal int) *SSEConnectionLimiter {
	if maxPerClient <= 0 {
		maxPerClient = constants.DefaultSSEMaxConnectionsPerIP
	}
	if minInterval <= 0 {
		minInterval = time.Duration(constants.DefaultSSEMinConnectionInterval) * time.Second
	}
	if maxTotal <= 0 {
		maxTotal = constants.DefaultSSEMaxTotalConnections
	}

	limiter := &SSEConnectionLimiter{
		connections:     make(map[string]int),
		lastConnect:     make(map[string]time.Time),
		maxPerClient:    maxPerClient,
		minInterval:     minInterval,
		cleanupInterval: 5 * time.Minute,
		maxTotalConns:   maxTotal,
	}

	// 啟動定期清理
	go limiter.cleanup()

	return limiter
}

// Middleware 連接限制中間件
func (l *SSEConnectionLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 認證中間件先行，優先按用戶計數；多設備同用戶共享額度
		client := GetUserID(c)
		if client == "" {
			client = c.ClientIP()
		}

		if !l.allowConnection(client) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "連接數已達上限，請稍後再試",
				"success": false,
			})
			c.Abort()
			return
		}

		l.registerConnection(client)

		// 在連接關閉時移除計數
		go func() {
			<-c.Request.Context().Done()
			l.removeConnection(client)
		}()

		c.Next()
	}
}

// allowConnection 檢查是否允許建立新連接
func (l *SSEConnectionLimiter) allowConnection(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 全局連接數限制
	if l.currentTotalConns >= l.maxTotalConns {
		return false
	}

	// 單一用戶連接數
	if count, exists := l.connections[client]; exists && count >= l.maxPerClient {
		return false
	}

	// 連接頻率
	if lastTime, exists := l.lastConnect[client]; exists {
		if time.Since(lastTime) < l.minInterval {
			return false
		}
	}

	return true
}

// registerConnection 註冊新連接
func (l *SSEConnectionLimiter) registerConnection(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connections[client]++
	l.currentTotalConns++
	l.lastConnect[client] = time.Now()
}

// removeConnection 移除連接
func (l *SSEConnectionLimiter) removeConnection(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count, exists := l.connections[client]; exists {
		if count <= 1 {
			delete(l.connections, client)
		} else {
			l.connections[client]--
		}
		l.currentTotalConns--
	}
}

// cleanup 定期清理過期數據
func (l *SSEConnectionLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		now := time.Now()
		for client, lastTime := range l.lastConnect {
			// 清理 10 分鐘無活動的記錄
			if now.Sub(lastTime) > 10*time.Minute {
				delete(l.lastConnect, client)
				if count, exists := l.connections[client]; !exists || count == 0 {
					delete(l.connections, client)
				}
			}
		}
		l.mu.Unlock()
	}
}

// Stats 獲取統計信息
func (l *SSEConnectionLimiter) Stats() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return map[string]interface{}{
		"total_connections": l.currentTotalConns,
		"unique_clients":    len(l.connections),
		"max_total":         l.maxTotalConns,
		"max_per_client":    l.maxPerClient,
	}
}

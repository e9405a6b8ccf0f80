package middleware

import (
	"net/http"
	"sync"
	"time"

	"dm-gateway/internal/constants"

	"github.com/gin-gonic/gin"
)

// endpointLimit 單一路由的速率限制參數.
type endpointLimit struct {
	rate   int           // 每個時間窗口允許的請求數
	window time.Duration // 時間窗口
}

// clientWindow 單一 (路由, IP) 的固定窗口計數器.
type clientWindow struct {
	count    int
	resetAt  time.Time
	lastSeen time.Time
}

// PerEndpointRateLimiter 按路由模板與客戶端 IP 的速率限制器。
// 路由鍵用 gin 的模板（例如 /api/v1/conversations/:conversation_id/messages），
// 帶路徑參數的端點也能各自設限；沒有專屬限制的路由走默認限制.
type PerEndpointRateLimiter struct {
	mu       sync.Mutex
	limits   map[string]endpointLimit
	fallback endpointLimit
	windows  map[string]*clientWindow // key: 路由模板 + "|" + IP
}

// NewPerEndpointRateLimiter 創建端點級速率限制器
func NewPerEndpointRateLimiter(defaultRate int, defaultWindow time.Duration) *PerEndpointRateLimiter {
	if defaultRate <= 0 {
		defaultRate = constants.DefaultRateLimitPerMinute
	}
	p := &PerEndpointRateLimiter{
		limits:   make(map[string]endpointLimit),
		fallback: endpointLimit{rate: defaultRate, window: defaultWindow},
		windows:  make(map[string]*clientWindow),
	}

	// 啟動清理 goroutine，定期清理閒置的計數器
	go p.cleanupWindows()

	return p
}

// SetLimit 為特定路由模板設置限制
func (p *PerEndpointRateLimiter) SetLimit(route string, rate int, window time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.limits[route] = endpointLimit{rate: rate, window: window}
}

// Middleware 返回 Gin 中間件
func (p *PerEndpointRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// FullPath 回傳路由模板；未匹配路由（404 等）退回原始路徑
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		if !p.allowRequest(route, c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "請求過於頻繁，請稍後再試",
				"success": false,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// allowRequest 檢查是否允許請求
func (p *PerEndpointRateLimiter) allowRequest(route, ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	limit, ok := p.limits[route]
	if !ok {
		limit = p.fallback
	}

	now := time.Now()
	key := route + "|" + ip

	window, ok := p.windows[key]
	if !ok || now.After(window.resetAt) {
		// 新訪問者或窗口已過期，重新起算
		p.windows[key] = &clientWindow{
			count:    1,
			resetAt:  now.Add(limit.window),
			lastSeen: now,
		}
		return true
	}

	window.lastSeen = now
	if window.count >= limit.rate {
		return false
	}
	window.count++
	return true
}

// cleanupWindows 定期清理閒置的計數器記錄
func (p *PerEndpointRateLimiter) cleanupWindows() {
	interval := time.Duration(constants.RateLimitCleanupIntervalMin) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		now := time.Now()

		for key, window := range p.windows {
			if now.Sub(window.lastSeen) > interval {
				delete(p.windows, key)
			}
		}

		p.mu.Unlock()
	}
}

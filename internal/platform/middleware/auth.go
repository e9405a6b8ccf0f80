package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"dm-gateway/internal/identity"
)

const (
	// UserIDKey 認證後的用戶 ID 在 gin.Context 中的鍵.
	UserIDKey = "user_id"
)

// AuthMiddleware 認證中間件，把 Bearer token 解析為已驗證的用戶 ID
type AuthMiddleware struct {
	resolver identity.Resolver
}

// NewAuthMiddleware 創建新的認證中間件
func NewAuthMiddleware(resolver identity.Resolver) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
	}
}

// RequireAuth 要求認證的中間件。驗證失敗的請求在此中止，
// 後續處理器可以無條件信任 context 中的用戶 ID
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, errMsg := extractBearerToken(c)
		if errMsg != "" {
			c.JSON(401, gin.H{"error": errMsg})
			c.Abort()
			return
		}

		userID, err := m.resolver.Resolve(token)
		if err != nil {
			c.JSON(401, gin.H{"error": "認證失敗"})
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// extractBearerToken 從 Authorization 頭或 WebSocket 子協議取出 token
func extractBearerToken(c *gin.Context) (token, errMsg string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", "無效的認證格式"
		}
		return parts[1], ""
	}

	// WebSocket 客戶端無法自訂 Authorization 頭，改走 Sec-WebSocket-Protocol
	if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
		parts := strings.Split(protocol, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1], ""
		}
	}

	// SSE 客戶端（EventSource）同樣無法自訂頭，允許 query 參數
	if token := c.Query("access_token"); token != "" {
		return token, ""
	}

	return "", "未提供認證 token"
}

// GetUserID 從 gin.Context 獲取已驗證的用戶 ID
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

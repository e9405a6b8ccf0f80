package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/platform/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValidateMessageBody 驗證訊息內容
func ValidateMessageBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("訊息內容不能為空")
	}

	cfg := config.Get()
	maxBytes := constants.DefaultMaxMessageBytes
	if cfg != nil && cfg.Limits.Message.MaxBytes > 0 {
		maxBytes = cfg.Limits.Message.MaxBytes
	}

	if len(body) > maxBytes {
		return fmt.Errorf("訊息內容超過大小上限 (%d 字節)", maxBytes)
	}

	// 防止 NULL 字符注入
	if strings.Contains(body, "\x00") {
		return fmt.Errorf("訊息內容包含非法字符")
	}

	return nil
}

// ValidateUserID 驗證用戶 ID 格式
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("用戶 ID 不能為空")
	}

	if len(userID) > constants.MaxUserIDLength {
		return fmt.Errorf("用戶 ID 格式錯誤")
	}

	// 防止 NULL 字符注入和特殊字符
	if strings.ContainsAny(userID, "\x00${}[]|") {
		return fmt.Errorf("用戶 ID 包含非法字符")
	}

	return nil
}

// ValidateConversationID 驗證會話 ID 格式（UUID）
func ValidateConversationID(conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("會話 ID 不能為空")
	}

	if _, err := uuid.Parse(conversationID); err != nil {
		return fmt.Errorf("會話 ID 格式錯誤")
	}

	return nil
}

// SanitizeInput 消毒輸入（移除危險字符）
func SanitizeInput(input string) string {
	// 移除 NULL 字符
	input = strings.ReplaceAll(input, "\x00", "")

	// 移除控制字符（除了換行和 Tab）
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// RequestSizeLimiter 限制請求體大小的中間件
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("請求體過大，最大允許 %d 字節", maxSize),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

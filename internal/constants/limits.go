package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 1 << 20 // 1MB
	DefaultRequestTimeout     = 30      // 秒
)

// 分頁相關常數
const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
	MinPageSize        = 1
)

// 會話相關常數
const (
	DefaultMaxGroupMembers    = 256
	MinGroupMembers           = 2
	DirectConversationMembers = 2
)

// 訊息相關常數
const (
	DefaultMaxMessageBytes = 10000
	MessageChannelBuffer   = 16
)

// 投遞相關常數
const (
	DefaultAppendRetries        = 3
	DefaultAppendBackoffMS      = 50
	DefaultPushChannelBuffer    = 32
	DefaultTypingTTLSeconds     = 6
	DefaultPresenceSweepSeconds = 30
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 100
	DefaultMessageRateLimit     = 30
	DefaultConversationRateLim  = 10
	DefaultStreamRateLimit      = 5
	RateLimitCleanupIntervalMin = 10 // 分鐘
)

// SSE / WebSocket 連接相關常數
const (
	DefaultSSEMaxConnectionsPerIP   = 3
	DefaultSSEMaxTotalConnections   = 1000
	DefaultSSEMinConnectionInterval = 10 // 秒
	DefaultSSEHeartbeatInterval     = 15 // 秒
	DefaultWSWriteTimeoutSeconds    = 10
	DefaultWSPongTimeoutSeconds     = 60
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)

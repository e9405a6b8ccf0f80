package httputil

// API 錯誤代碼常數.
const (
	// 1000-1999: 認證相關錯誤 (401 Unauthorized).
	ErrorCodeMissingAuthHeader = 1001
	ErrorCodeInvalidAuthFormat = 1002
	ErrorCodeInvalidAuthHeader = 1003

	// 2000-2999: 參數相關錯誤 (400 Bad Request).
	ErrorCodeInvalidParameter  = 2001
	ErrorCodeInvalidCursor     = 2002
	ErrorCodeInvalidMembership = 2003

	// 3000-3999: 授權相關錯誤 (403 Forbidden).
	ErrorCodeNotMember = 3001

	// 4000-4999: 資源相關錯誤 (404 Not Found).
	ErrorCodeRecordNotFound       = 4001
	ErrorCodeConversationNotFound = 4002
	ErrorCodeMessageNotFound      = 4003

	// 5000-5999: 處理相關錯誤 (500/503).
	ErrorCodeProcessingFailed   = 5001
	ErrorCodeStorageUnavailable = 5002

	// 6000-6999: 內容相關錯誤 (413 Payload Too Large).
	ErrorCodePayloadTooLarge = 6001
)

package errs

import "errors"

// 領域錯誤哨兵值，各層透過 errors.Is 判斷後再決定回應方式.
var (
	// ErrUnauthorized 請求缺少或帶有無效的身份憑證.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotMember 操作者不是會話的現任成員.
	ErrNotMember = errors.New("not a conversation member")

	// ErrInvalidMembership 成員集合不符合會話類型的要求.
	ErrInvalidMembership = errors.New("invalid membership")

	// ErrConversationNotFound 會話不存在或已被軟刪除.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidCursor 游標指向會話中不存在的順序鍵.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrPayloadTooLarge 訊息內容超過配置的大小上限.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMessageNotFound 順序鍵在會話中不存在.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUnavailable 暫時性儲存故障，重試額度耗盡後才回報.
	ErrUnavailable = errors.New("storage unavailable")
)

// IsClientError 判斷錯誤是否應以 4xx 語義回應而非伺服器錯誤.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrNotMember),
		errors.Is(err, ErrInvalidMembership),
		errors.Is(err, ErrConversationNotFound),
		errors.Is(err, ErrInvalidCursor),
		errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrMessageNotFound):
		return true
	}
	return false
}

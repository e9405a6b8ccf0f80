package storage

import (
	"strings"
	"time"

	"dm-gateway/internal/errs"
)

// EncodeListCursor 編碼會話列表的續讀游標。
// 游標帶 (last_message_at, 會話 ID) 兩段：時間戳相同的會話
// 按 ID 決出次序，翻頁不會跳過同一毫秒落地的會話.
func EncodeListCursor(lastMessageAt time.Time, conversationID string) string {
	return lastMessageAt.UTC().Format(time.RFC3339Nano) + "|" + conversationID
}

// DecodeListCursor 解析會話列表游標，格式錯誤回報 ErrInvalidCursor.
func DecodeListCursor(cursor string) (time.Time, string, error) {
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", errs.ErrInvalidCursor
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", errs.ErrInvalidCursor
	}
	return t, parts[1], nil
}

// Package database 提供基於 MongoDB 的存儲實現.
package database

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"dm-gateway/internal/storage"
)

// NewRepositories 建立所有 MongoDB 存儲並創建索引。
// 三個存儲共享同一組會話鎖，確保同一會話的寫入路徑互斥.
func NewRepositories(ctx context.Context, db *mongo.Database) (*storage.Repositories, error) {
	if err := CreateIndexes(ctx, db); err != nil {
		return nil, err
	}

	locks := storage.NewKeyedMutex()

	return &storage.Repositories{
		Conversations: NewConversationStore(db, locks),
		Messages:      NewMessageStore(db, locks),
		Cursors:       NewCursorStore(db),
	}, nil
}

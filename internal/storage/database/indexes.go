package database

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引以優化查詢性能並保證唯一性約束
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	// 訊息集合索引
	messagesCollection := db.Collection("messages")

	// 1. 會話 ID + 順序鍵唯一索引（順序鍵分配的最後防線）
	seqIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "seq", Value: 1},
		},
		Options: options.Index().SetName("conversation_seq_idx").SetUnique(true),
	}

	// 2. 會話 ID + 創建時間索引
	conversationTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("conversation_time_idx"),
	}

	// 3. 發送者索引
	senderIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("sender_time_idx"),
	}

	messageIndexes := []mongo.IndexModel{
		seqIndex,
		conversationTimeIndex,
		senderIndex,
	}

	if _, err := messagesCollection.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	// 會話集合索引
	conversationsCollection := db.Collection("conversations")

	// 1. 會話 ID 唯一索引
	idIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "id", Value: 1},
		},
		Options: options.Index().SetName("id_idx").SetUnique(true),
	}

	// 2. 私聊唯一鍵索引（冪等建立私聊的依據；群組沒有 direct_key，用部分索引排除）
	directKeyIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "direct_key", Value: 1},
		},
		Options: options.Index().
			SetName("direct_key_idx").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"direct_key": bson.M{"$exists": true, "$type": "string"}}),
	}

	// 3. 成員用戶 ID 索引
	memberIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "member_ids", Value: 1},
		},
		Options: options.Index().SetName("member_idx"),
	}

	// 4. 最後訊息時間索引（會話列表排序，ID 斷後）
	lastMessageIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "last_message_at", Value: -1},
			{Key: "id", Value: -1},
		},
		Options: options.Index().SetName("last_message_idx"),
	}

	conversationIndexes := []mongo.IndexModel{
		idIndex,
		directKeyIndex,
		memberIndex,
		lastMessageIndex,
	}

	if _, err := conversationsCollection.Indexes().CreateMany(ctx, conversationIndexes); err != nil {
		return err
	}

	// 游標集合索引
	cursorsCollection := db.Collection("cursors")

	cursorIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "user_id", Value: 1},
		},
		Options: options.Index().SetName("conversation_user_idx").SetUnique(true),
	}

	if _, err := cursorsCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{cursorIndex}); err != nil {
		return err
	}

	return nil
}

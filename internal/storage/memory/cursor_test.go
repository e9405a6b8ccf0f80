package memory

import (
	"context"
	"testing"
)

func TestCursorZeroValue(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	cursor, err := repos.Cursors.Get(ctx, "conv-1", "user_alice")
	if err != nil {
		t.Fatalf("取得游標失敗: %v", err)
	}
	if cursor.LastReadSeq != 0 || cursor.LastDeliveredSeq != 0 {
		t.Errorf("未確認過的游標應為零值: %+v", cursor)
	}
}

func TestCursorMonotonicAdvance(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	if err := repos.Cursors.AdvanceRead(ctx, "conv-1", "user_alice", 5); err != nil {
		t.Fatalf("推進失敗: %v", err)
	}

	// 重複與亂序的確認不得倒退水位
	_ = repos.Cursors.AdvanceRead(ctx, "conv-1", "user_alice", 3)
	_ = repos.Cursors.AdvanceRead(ctx, "conv-1", "user_alice", 5)

	cursor, _ := repos.Cursors.Get(ctx, "conv-1", "user_alice")
	if cursor.LastReadSeq != 5 {
		t.Errorf("已讀水位應保持在 5，拿到 %d", cursor.LastReadSeq)
	}
}

func TestReadImpliesDelivered(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	_ = repos.Cursors.AdvanceDelivered(ctx, "conv-1", "user_alice", 2)
	_ = repos.Cursors.AdvanceRead(ctx, "conv-1", "user_alice", 7)

	cursor, _ := repos.Cursors.Get(ctx, "conv-1", "user_alice")
	if cursor.LastReadSeq != 7 {
		t.Errorf("已讀水位應為 7，拿到 %d", cursor.LastReadSeq)
	}
	if cursor.LastDeliveredSeq != 7 {
		t.Errorf("已讀應蘊含已送達，送達水位應為 7，拿到 %d", cursor.LastDeliveredSeq)
	}

	// 單獨推進送達不影響已讀
	_ = repos.Cursors.AdvanceDelivered(ctx, "conv-1", "user_alice", 9)
	cursor, _ = repos.Cursors.Get(ctx, "conv-1", "user_alice")
	if cursor.LastReadSeq != 7 || cursor.LastDeliveredSeq != 9 {
		t.Errorf("游標異常: read=%d delivered=%d", cursor.LastReadSeq, cursor.LastDeliveredSeq)
	}
}

func TestCursorsIndependentPerUser(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	_ = repos.Cursors.AdvanceRead(ctx, "conv-1", "user_alice", 4)
	_ = repos.Cursors.AdvanceRead(ctx, "conv-1", "user_bob", 2)
	_ = repos.Cursors.AdvanceRead(ctx, "conv-2", "user_alice", 9)

	a1, _ := repos.Cursors.Get(ctx, "conv-1", "user_alice")
	b1, _ := repos.Cursors.Get(ctx, "conv-1", "user_bob")
	a2, _ := repos.Cursors.Get(ctx, "conv-2", "user_alice")

	if a1.LastReadSeq != 4 || b1.LastReadSeq != 2 || a2.LastReadSeq != 9 {
		t.Errorf("游標應按 (會話, 用戶) 獨立: %d %d %d", a1.LastReadSeq, b1.LastReadSeq, a2.LastReadSeq)
	}
}

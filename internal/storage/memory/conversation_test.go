package memory

import (
	"context"
	"errors"
	"testing"

	"dm-gateway/internal/errs"
	"dm-gateway/internal/storage"
)

func TestGetOrCreateDirectIdempotent(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	first, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	if err != nil {
		t.Fatalf("創建私聊失敗: %v", err)
	}

	// 參數順序顛倒也要命中同一個會話
	second, err := repos.Conversations.GetOrCreateDirect(ctx, "user_bob", "user_alice")
	if err != nil {
		t.Fatalf("再次取得私聊失敗: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("同一對用戶應拿到同一個會話: %s != %s", first.ID, second.ID)
	}
	if first.Kind != storage.KindDirect {
		t.Errorf("會話類型錯誤: %s", first.Kind)
	}
}

func TestGetOrCreateDirectInvalid(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	cases := []struct {
		name  string
		userA string
		userB string
	}{
		{"自己和自己", "user_alice", "user_alice"},
		{"空用戶 A", "", "user_bob"},
		{"空用戶 B", "user_alice", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repos.Conversations.GetOrCreateDirect(ctx, tc.userA, tc.userB)
			if !errors.Is(err, errs.ErrInvalidMembership) {
				t.Errorf("期望 ErrInvalidMembership，拿到: %v", err)
			}
		})
	}
}

func TestCreateGroupValidation(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	// 正常建立
	conv, err := repos.Conversations.CreateGroup(ctx, "user_alice", []string{"user_alice", "user_bob", "user_carol"})
	if err != nil {
		t.Fatalf("建立群組失敗: %v", err)
	}
	if len(conv.MemberIDs) != 3 {
		t.Errorf("成員數量錯誤: %d", len(conv.MemberIDs))
	}

	// 建立者不在成員中
	if _, err := repos.Conversations.CreateGroup(ctx, "user_dave", []string{"user_alice", "user_bob"}); !errors.Is(err, errs.ErrInvalidMembership) {
		t.Errorf("建立者不在成員中應失敗，拿到: %v", err)
	}

	// 成員太少（去重後）
	if _, err := repos.Conversations.CreateGroup(ctx, "user_alice", []string{"user_alice", "user_alice"}); !errors.Is(err, errs.ErrInvalidMembership) {
		t.Errorf("單一成員應失敗，拿到: %v", err)
	}
}

func TestAddMemberRules(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	group, _ := repos.Conversations.CreateGroup(ctx, "user_alice", []string{"user_alice", "user_bob"})
	direct, _ := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")

	// 私聊不可變更成員
	if err := repos.Conversations.AddMember(ctx, direct.ID, "user_carol"); !errors.Is(err, errs.ErrInvalidMembership) {
		t.Errorf("私聊添加成員應失敗，拿到: %v", err)
	}

	// 群組正常添加
	if err := repos.Conversations.AddMember(ctx, group.ID, "user_carol"); err != nil {
		t.Fatalf("添加成員失敗: %v", err)
	}

	// 重複添加冪等
	if err := repos.Conversations.AddMember(ctx, group.ID, "user_carol"); err != nil {
		t.Errorf("重複添加應冪等，拿到: %v", err)
	}

	// 移除後不可重新加入
	if err := repos.Conversations.RemoveMember(ctx, group.ID, "user_carol"); err != nil {
		t.Fatalf("移除成員失敗: %v", err)
	}
	if err := repos.Conversations.AddMember(ctx, group.ID, "user_carol"); !errors.Is(err, errs.ErrInvalidMembership) {
		t.Errorf("前任成員重新加入應失敗，拿到: %v", err)
	}
}

func TestRemoveLastMemberSoftDeletes(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	group, _ := repos.Conversations.CreateGroup(ctx, "user_alice", []string{"user_alice", "user_bob"})

	if err := repos.Conversations.RemoveMember(ctx, group.ID, "user_bob"); err != nil {
		t.Fatalf("移除成員失敗: %v", err)
	}
	if err := repos.Conversations.RemoveMember(ctx, group.ID, "user_alice"); err != nil {
		t.Fatalf("移除最後成員失敗: %v", err)
	}

	conv, err := repos.Conversations.GetByID(ctx, group.ID)
	if err != nil {
		t.Fatalf("取得會話失敗: %v", err)
	}
	if !conv.Deleted {
		t.Error("最後一名成員離開後會話應被軟刪除")
	}

	// 已刪除的會話不再接受成員檢查
	if _, err := repos.Conversations.IsMember(ctx, group.ID, "user_alice"); !errors.Is(err, errs.ErrConversationNotFound) {
		t.Errorf("已刪除會話應回報 ErrConversationNotFound，拿到: %v", err)
	}
}

func TestFormerMemberTracking(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	group, _ := repos.Conversations.CreateGroup(ctx, "user_alice", []string{"user_alice", "user_bob", "user_carol"})
	_ = repos.Conversations.RemoveMember(ctx, group.ID, "user_carol")

	conv, _ := repos.Conversations.GetByID(ctx, group.ID)
	if conv.HasMember("user_carol") {
		t.Error("被移除者不應是現任成員")
	}
	if !conv.WasMember("user_carol") {
		t.Error("被移除者應保留在前任成員中")
	}
}

func TestListUserConversationsPagination(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	// 建立 5 個會話並讓每個會話有不同的最新訊息時間
	ids := []string{}
	for _, peer := range []string{"user_b", "user_c", "user_d", "user_e", "user_f"} {
		conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_a", peer)
		if err != nil {
			t.Fatalf("建立會話失敗: %v", err)
		}
		ids = append(ids, conv.ID)
		if _, err := repos.Messages.Append(ctx, conv.ID, "user_a", "hello", storage.KindText); err != nil {
			t.Fatalf("追加訊息失敗: %v", err)
		}
		if err := repos.Conversations.TouchLastMessage(ctx, conv.ID, 1, "hello"); err != nil {
			t.Fatalf("更新指標失敗: %v", err)
		}
	}

	// 第一頁
	page1, cursor, hasMore, err := repos.Conversations.ListUserConversations(ctx, "user_a", 2, "")
	if err != nil {
		t.Fatalf("列表失敗: %v", err)
	}
	if len(page1) != 2 || !hasMore || cursor == "" {
		t.Fatalf("第一頁結果異常: len=%d hasMore=%v cursor=%q", len(page1), hasMore, cursor)
	}

	// 第一頁應是最新觸碰的會話
	if page1[0].ID != ids[len(ids)-1] {
		t.Errorf("第一頁首位應是最新會話")
	}

	// 翻到底，收集所有會話且無重複
	seen := map[string]bool{}
	for _, conv := range page1 {
		seen[conv.ID] = true
	}
	for cursor != "" {
		page, next, more, err := repos.Conversations.ListUserConversations(ctx, "user_a", 2, cursor)
		if err != nil {
			t.Fatalf("翻頁失敗: %v", err)
		}
		for _, conv := range page {
			if seen[conv.ID] {
				t.Errorf("會話重複出現: %s", conv.ID)
			}
			seen[conv.ID] = true
		}
		cursor = next
		if !more {
			break
		}
	}
	if len(seen) != len(ids) {
		t.Errorf("翻頁遺漏會話: 看到 %d 個，期望 %d 個", len(seen), len(ids))
	}

	// 壞游標
	if _, _, _, err := repos.Conversations.ListUserConversations(ctx, "user_a", 2, "not-a-time"); !errors.Is(err, errs.ErrInvalidCursor) {
		t.Errorf("壞游標應回報 ErrInvalidCursor，拿到: %v", err)
	}
}

func TestListUserConversationsEqualTimestampTiebreak(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	// 沒有訊息的會話 last_message_at 全部相同（零值），
	// 翻頁必須靠會話 ID 斷後，否則會整批跳過
	ids := map[string]bool{}
	for _, peer := range []string{"user_b", "user_c", "user_d", "user_e"} {
		conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_a", peer)
		if err != nil {
			t.Fatalf("建立會話失敗: %v", err)
		}
		ids[conv.ID] = true
	}

	seen := map[string]bool{}
	cursor := ""
	for {
		page, next, more, err := repos.Conversations.ListUserConversations(ctx, "user_a", 1, cursor)
		if err != nil {
			t.Fatalf("翻頁失敗: %v", err)
		}
		for _, conv := range page {
			if seen[conv.ID] {
				t.Errorf("會話重複出現: %s", conv.ID)
			}
			seen[conv.ID] = true
		}
		if !more {
			break
		}
		cursor = next
	}

	if len(seen) != len(ids) {
		t.Errorf("同時間戳的會話被跳過: 看到 %d 個，期望 %d 個", len(seen), len(ids))
	}
}

func TestTouchLastMessageMonotonic(t *testing.T) {
	repos := NewRepositories()
	ctx := context.Background()

	conv, _ := repos.Conversations.GetOrCreateDirect(ctx, "user_a", "user_b")

	if err := repos.Conversations.TouchLastMessage(ctx, conv.ID, 5, "five"); err != nil {
		t.Fatalf("更新失敗: %v", err)
	}
	// 亂序到達的舊更新應落空
	if err := repos.Conversations.TouchLastMessage(ctx, conv.ID, 3, "three"); err != nil {
		t.Fatalf("舊更新不應回報錯誤: %v", err)
	}

	got, _ := repos.Conversations.GetByID(ctx, conv.ID)
	if got.LastMessageSeq != 5 || got.LastMessagePreview != "five" {
		t.Errorf("指標應保持在 5/five，拿到: %d/%s", got.LastMessageSeq, got.LastMessagePreview)
	}
}

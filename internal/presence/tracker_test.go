package presence

import (
	"testing"
	"time"
)

func TestOnlineRefCounting(t *testing.T) {
	tracker := NewTracker()

	if tracker.IsOnline("user_alice") {
		t.Fatal("未上線的用戶不應為在線")
	}

	// 同一用戶兩條連線，全部下線才算離線
	tracker.SetOnline("user_alice")
	tracker.SetOnline("user_alice")
	if !tracker.IsOnline("user_alice") {
		t.Error("上線後應為在線")
	}

	tracker.SetOffline("user_alice")
	if !tracker.IsOnline("user_alice") {
		t.Error("仍有一條連線時應為在線")
	}

	tracker.SetOffline("user_alice")
	if tracker.IsOnline("user_alice") {
		t.Error("所有連線下線後應為離線")
	}

	status := tracker.Get("user_alice")
	if status.Online || status.LastSeen.IsZero() {
		t.Errorf("離線狀態應帶最後上線時間: %+v", status)
	}
}

func TestSetOfflineUnknownUser(t *testing.T) {
	tracker := NewTracker()

	// 未知用戶下線不應恐慌
	tracker.SetOffline("user_ghost")
	if tracker.IsOnline("user_ghost") {
		t.Error("未知用戶不應為在線")
	}
}

func TestTypingExpires(t *testing.T) {
	tracker := NewTracker()

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	tracker.SetTyping("conv-1", "user_alice")
	tracker.SetTyping("conv-1", "user_bob")
	tracker.SetTyping("conv-2", "user_alice")

	typing := tracker.TypingUsers("conv-1")
	if len(typing) != 2 {
		t.Fatalf("conv-1 應有兩人輸入中，拿到 %v", typing)
	}

	// 越過 TTL 後全部過期
	current = current.Add(time.Minute)
	if typing := tracker.TypingUsers("conv-1"); len(typing) != 0 {
		t.Errorf("過期後不應有人輸入中: %v", typing)
	}
	if typing := tracker.TypingUsers("conv-2"); len(typing) != 0 {
		t.Errorf("過期後不應有人輸入中: %v", typing)
	}
}

func TestTypingRefresh(t *testing.T) {
	tracker := NewTracker()

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	tracker.SetTyping("conv-1", "user_alice")

	// 快到期時再次輸入，TTL 重新起算
	current = current.Add(5 * time.Second)
	tracker.SetTyping("conv-1", "user_alice")

	current = current.Add(3 * time.Second)
	if typing := tracker.TypingUsers("conv-1"); len(typing) != 1 {
		t.Errorf("重新輸入後應仍在輸入中: %v", typing)
	}
}

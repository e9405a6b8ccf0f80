package push

import (
	"testing"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe("user_alice")
	if !hub.HasSubscriber("user_alice") {
		t.Fatal("訂閱後應可查到訂閱者")
	}

	hub.Publish([]string{"user_alice", "user_bob"}, Event{
		Type:           EventMessage,
		ConversationID: "conv-1",
		Seq:            1,
	})

	select {
	case event := <-sub.C():
		if event.Type != EventMessage || event.Seq != 1 {
			t.Errorf("事件內容異常: %+v", event)
		}
	default:
		t.Fatal("訂閱者應收到事件")
	}

	hub.Unsubscribe(sub)
	if hub.HasSubscriber("user_alice") {
		t.Error("取消訂閱後不應再查到訂閱者")
	}

	// 通道已關閉
	if _, ok := <-sub.C(); ok {
		t.Error("取消訂閱後通道應已關閉")
	}
}

func TestPublishToOfflineUserIsNoop(t *testing.T) {
	hub := NewHub()

	// 沒有訂閱者時發佈不應恐慌或阻塞
	hub.Publish([]string{"user_nobody"}, Event{Type: EventMessage, ConversationID: "conv-1"})

	if hub.HasSubscriber("user_nobody") {
		t.Error("離線用戶不應有訂閱")
	}
}

func TestPublishDropsWhenChannelFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("user_alice")
	defer hub.Unsubscribe(sub)

	// 塞滿通道再多發一批，發佈方不得阻塞
	for i := 0; i < cap(sub.ch)+10; i++ {
		hub.Publish([]string{"user_alice"}, Event{
			Type:           EventMessage,
			ConversationID: "conv-1",
			Seq:            int64(i + 1),
		})
	}

	received := 0
	for {
		select {
		case <-sub.C():
			received++
			continue
		default:
		}
		break
	}

	if received != cap(sub.ch) {
		t.Errorf("超出緩衝的事件應被丟棄: 收到 %d，緩衝 %d", received, cap(sub.ch))
	}
}

func TestMultipleSubscriptionsPerUser(t *testing.T) {
	hub := NewHub()

	sub1 := hub.Subscribe("user_alice")
	sub2 := hub.Subscribe("user_alice")

	hub.Publish([]string{"user_alice"}, Event{Type: EventRead, ConversationID: "conv-1", Seq: 3})

	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case event := <-sub.C():
			if event.Type != EventRead {
				t.Errorf("事件類型異常: %s", event.Type)
			}
		default:
			t.Error("每條連線都應收到事件")
		}
	}

	hub.Unsubscribe(sub1)
	if !hub.HasSubscriber("user_alice") {
		t.Error("仍有一條連線時應視為在線")
	}
	hub.Unsubscribe(sub2)
	if hub.HasSubscriber("user_alice") {
		t.Error("全部取消後不應再有訂閱")
	}
}

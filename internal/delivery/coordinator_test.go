package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-gateway/internal/audit"
	"dm-gateway/internal/errs"
	"dm-gateway/internal/presence"
	"dm-gateway/internal/push"
	"dm-gateway/internal/storage"
	"dm-gateway/internal/storage/memory"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *storage.Repositories, *push.Hub) {
	t.Helper()
	repos := memory.NewRepositories()
	hub := push.NewHub()
	tracker := presence.NewTracker()
	return NewCoordinator(repos, hub, tracker, audit.NewService(false)), repos, hub
}

func drainEvents(sub *push.Subscriber) []push.Event {
	events := []push.Event{}
	for {
		select {
		case event := <-sub.C():
			events = append(events, event)
			continue
		default:
		}
		return events
	}
}

func TestSendFansOutToOnlineMembers(t *testing.T) {
	coordinator, repos, hub := newTestCoordinator(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)

	bobSub := hub.Subscribe("user_bob")
	defer hub.Unsubscribe(bobSub)

	message, err := coordinator.Send(ctx, conv.ID, "user_alice", "午餐吃什麼？")
	require.NoError(t, err)
	assert.Equal(t, int64(1), message.Seq)

	events := drainEvents(bobSub)
	require.Len(t, events, 1)
	assert.Equal(t, push.EventMessage, events[0].Type)
	assert.Equal(t, message.Seq, events[0].Message.Seq)

	// 發送者自己的訊息自動視為已讀
	cursor, err := repos.Cursors.Get(ctx, conv.ID, "user_alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor.LastReadSeq)

	// 會話列表指標同步更新
	updated, err := repos.Conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.LastMessageSeq)
	assert.Equal(t, "午餐吃什麼？", updated.LastMessagePreview)
}

func TestUnreadFlowBetweenTwoUsers(t *testing.T) {
	coordinator, repos, _ := newTestCoordinator(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := coordinator.Send(ctx, conv.ID, "user_alice", "hello")
		require.NoError(t, err)
	}

	// bob 尚未確認，未讀 3
	bobCursor, err := repos.Cursors.Get(ctx, conv.ID, "user_bob")
	require.NoError(t, err)
	updated, err := repos.Conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.LastMessageSeq-bobCursor.LastReadSeq)

	// bob 確認到第 2 則，未讀降為 1
	require.NoError(t, coordinator.AcknowledgeRead(ctx, conv.ID, "user_bob", 2))
	bobCursor, err = repos.Cursors.Get(ctx, conv.ID, "user_bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.LastMessageSeq-bobCursor.LastReadSeq)
}

func TestAcknowledgeValidation(t *testing.T) {
	coordinator, repos, _ := newTestCoordinator(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)

	_, err = coordinator.Send(ctx, conv.ID, "user_alice", "first")
	require.NoError(t, err)

	tests := []struct {
		name    string
		userID  string
		uptoSeq int64
		wantErr error
	}{
		{"順序鍵為零", "user_bob", 0, errs.ErrInvalidCursor},
		{"順序鍵為負", "user_bob", -1, errs.ErrInvalidCursor},
		{"順序鍵超過最新", "user_bob", 99, errs.ErrInvalidCursor},
		{"非成員", "user_mallory", 1, errs.ErrNotMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := coordinator.AcknowledgeRead(ctx, conv.ID, tt.userID, tt.uptoSeq)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// 合法確認，重複確認也安全
	require.NoError(t, coordinator.AcknowledgeRead(ctx, conv.ID, "user_bob", 1))
	require.NoError(t, coordinator.AcknowledgeRead(ctx, conv.ID, "user_bob", 1))
	require.NoError(t, coordinator.AcknowledgeDelivered(ctx, conv.ID, "user_bob", 1))
}

func TestReadAckNotifiesOtherMembers(t *testing.T) {
	coordinator, repos, hub := newTestCoordinator(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)
	_, err = coordinator.Send(ctx, conv.ID, "user_alice", "hi")
	require.NoError(t, err)

	aliceSub := hub.Subscribe("user_alice")
	defer hub.Unsubscribe(aliceSub)
	bobSub := hub.Subscribe("user_bob")
	defer hub.Unsubscribe(bobSub)

	require.NoError(t, coordinator.AcknowledgeRead(ctx, conv.ID, "user_bob", 1))

	aliceEvents := drainEvents(aliceSub)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, push.EventRead, aliceEvents[0].Type)
	assert.Equal(t, "user_bob", aliceEvents[0].UserID)
	assert.Equal(t, int64(1), aliceEvents[0].Seq)

	// 確認者自己不會收到回音
	assert.Empty(t, drainEvents(bobSub))
}

func TestSendDeniedForFormerMember(t *testing.T) {
	coordinator, repos, _ := newTestCoordinator(t)
	ctx := context.Background()

	conv, err := repos.Conversations.CreateGroup(ctx, "user_alice", []string{"user_alice", "user_bob", "user_carol"})
	require.NoError(t, err)

	require.NoError(t, coordinator.RemoveMember(ctx, conv.ID, "user_carol", "user_carol"))

	_, err = coordinator.Send(ctx, conv.ID, "user_carol", "我還在嗎")
	assert.ErrorIs(t, err, errs.ErrNotMember)
}

func TestSendToUnknownConversation(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t)

	_, err := coordinator.Send(context.Background(), "conv-missing", "user_alice", "hi")
	assert.ErrorIs(t, err, errs.ErrConversationNotFound)
}

func TestDeleteMessage(t *testing.T) {
	coordinator, repos, hub := newTestCoordinator(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)
	message, err := coordinator.Send(ctx, conv.ID, "user_alice", "打錯了")
	require.NoError(t, err)

	bobSub := hub.Subscribe("user_bob")
	defer hub.Unsubscribe(bobSub)

	// 只有發送者本人能刪
	err = coordinator.DeleteMessage(ctx, conv.ID, message.Seq, "user_bob")
	assert.ErrorIs(t, err, errs.ErrNotMember)

	require.NoError(t, coordinator.DeleteMessage(ctx, conv.ID, message.Seq, "user_alice"))

	events := drainEvents(bobSub)
	require.Len(t, events, 1)
	assert.Equal(t, push.EventMessageDeleted, events[0].Type)
	assert.Equal(t, message.Seq, events[0].Seq)

	messages, err := repos.Messages.ListSince(ctx, conv.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Deleted)
	assert.Empty(t, messages[0].Body)
}

func TestMembershipChangesAppendSystemMessages(t *testing.T) {
	coordinator, repos, _ := newTestCoordinator(t)
	ctx := context.Background()

	conv, err := repos.Conversations.CreateGroup(ctx, "user_alice", []string{"user_alice", "user_bob"})
	require.NoError(t, err)

	require.NoError(t, coordinator.AddMember(ctx, conv.ID, "user_alice", "user_carol"))
	require.NoError(t, coordinator.RemoveMember(ctx, conv.ID, "user_carol", "user_carol"))

	messages, err := repos.Messages.ListSince(ctx, conv.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	for _, message := range messages {
		assert.Equal(t, storage.KindSystem, message.Kind)
		assert.Equal(t, "user_carol", message.SenderID)
	}

	// 順序鍵連續無空洞
	assert.Equal(t, int64(1), messages[0].Seq)
	assert.Equal(t, int64(2), messages[1].Seq)

	updated, err := repos.Conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, updated.HasMember("user_carol"))
	assert.True(t, updated.WasMember("user_carol"))
}

func TestRemoveMemberRules(t *testing.T) {
	coordinator, repos, _ := newTestCoordinator(t)
	ctx := context.Background()

	conv, err := repos.Conversations.CreateGroup(ctx, "user_alice", []string{"user_alice", "user_bob"})
	require.NoError(t, err)

	// 非成員不能移除任何人
	err = coordinator.RemoveMember(ctx, conv.ID, "user_mallory", "user_bob")
	assert.ErrorIs(t, err, errs.ErrNotMember)

	// 移除對象必須是現任成員
	err = coordinator.RemoveMember(ctx, conv.ID, "user_alice", "user_mallory")
	assert.ErrorIs(t, err, errs.ErrNotMember)
}

func TestNotifyTyping(t *testing.T) {
	coordinator, repos, hub := newTestCoordinator(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)

	bobSub := hub.Subscribe("user_bob")
	defer hub.Unsubscribe(bobSub)

	require.NoError(t, coordinator.NotifyTyping(ctx, conv.ID, "user_alice"))

	events := drainEvents(bobSub)
	require.Len(t, events, 1)
	assert.Equal(t, push.EventTyping, events[0].Type)
	assert.Equal(t, "user_alice", events[0].UserID)

	err = coordinator.NotifyTyping(ctx, conv.ID, "user_mallory")
	assert.True(t, errors.Is(err, errs.ErrNotMember))
}

func TestPreviewClampsLongBody(t *testing.T) {
	long := make([]rune, 0, 200)
	for i := 0; i < 200; i++ {
		long = append(long, '訊')
	}

	clamped := preview(string(long))
	assert.Equal(t, previewMaxRunes+1, len([]rune(clamped)))

	short := "short"
	assert.Equal(t, short, preview(short))
}

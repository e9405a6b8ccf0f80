package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-gateway/internal/errs"
	"dm-gateway/internal/storage"
	"dm-gateway/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *storage.Repositories) {
	t.Helper()
	repos := memory.NewRepositories()
	return NewService(repos), repos
}

func seedMessages(t *testing.T, repos *storage.Repositories, conversationID, senderID string, count int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		_, err := repos.Messages.Append(ctx, conversationID, senderID, fmt.Sprintf("訊息 %d", i+1), storage.KindText)
		require.NoError(t, err)
	}
}

func TestListConversationsWithUnread(t *testing.T) {
	service, repos := newTestService(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)
	seedMessages(t, repos, conv.ID, "user_alice", 5)
	require.NoError(t, repos.Conversations.TouchLastMessage(ctx, conv.ID, 5, "訊息 5"))
	require.NoError(t, repos.Cursors.AdvanceRead(ctx, conv.ID, "user_bob", 2))

	page, err := service.ListConversations(ctx, "user_bob", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, int64(3), page.Conversations[0].UnreadCount)
	assert.False(t, page.HasMore)

	// 沒讀過游標的成員未讀數等於全部
	page, err = service.ListConversations(ctx, "user_alice", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, int64(5), page.Conversations[0].UnreadCount)
}

func TestListMessagesBackward(t *testing.T) {
	service, repos := newTestService(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)
	seedMessages(t, repos, conv.ID, "user_alice", 7)

	// beforeSeq ≤ 0 從最新開始，降序
	page, err := service.ListMessages(ctx, conv.ID, "user_bob", false, 0, 3)
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, int64(7), page.Messages[0].Seq)
	assert.Equal(t, int64(5), page.Messages[2].Seq)
	assert.Equal(t, int64(5), page.NextCursor)
	assert.True(t, page.HasMore)

	// 用游標翻下一頁
	page, err = service.ListMessages(ctx, conv.ID, "user_bob", false, page.NextCursor, 3)
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, int64(4), page.Messages[0].Seq)
	assert.Equal(t, int64(2), page.NextCursor)
	assert.True(t, page.HasMore)

	// 最後一頁
	page, err = service.ListMessages(ctx, conv.ID, "user_bob", false, page.NextCursor, 3)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, int64(1), page.Messages[0].Seq)
	assert.False(t, page.HasMore)
}

func TestListMessagesForward(t *testing.T) {
	service, repos := newTestService(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)
	seedMessages(t, repos, conv.ID, "user_alice", 5)

	// 從第 2 則之後向前補齊，升序
	page, err := service.ListMessages(ctx, conv.ID, "user_bob", true, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, int64(3), page.Messages[0].Seq)
	assert.Equal(t, int64(4), page.Messages[1].Seq)
	assert.True(t, page.HasMore)

	page, err = service.ListMessages(ctx, conv.ID, "user_bob", true, page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, int64(5), page.Messages[0].Seq)
	assert.False(t, page.HasMore)
}

func TestListMessagesForwardFromStart(t *testing.T) {
	service, repos := newTestService(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)
	_, err = repos.Messages.Append(ctx, conv.ID, "user_alice", "hi", storage.KindText)
	require.NoError(t, err)

	// cursor 為 0 的 forward 從第一則訊息開始
	page, err := service.ListMessages(ctx, conv.ID, "user_bob", true, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hi", page.Messages[0].Body)
	assert.Equal(t, int64(1), page.Messages[0].Seq)
	assert.False(t, page.HasMore)
}

func TestListMessagesEmptyConversation(t *testing.T) {
	service, repos := newTestService(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)

	page, err := service.ListMessages(ctx, conv.ID, "user_alice", false, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
	assert.Zero(t, page.NextCursor)
}

func TestFormerMemberKeepsHistoryAccess(t *testing.T) {
	service, repos := newTestService(t)
	ctx := context.Background()

	conv, err := repos.Conversations.CreateGroup(ctx, "user_alice", []string{"user_alice", "user_bob", "user_carol"})
	require.NoError(t, err)
	seedMessages(t, repos, conv.ID, "user_alice", 3)
	require.NoError(t, repos.Conversations.RemoveMember(ctx, conv.ID, "user_carol"))

	// 前任成員仍可讀歷史
	page, err := service.ListMessages(ctx, conv.ID, "user_carol", false, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)

	_, err = service.GetConversation(ctx, conv.ID, "user_carol")
	require.NoError(t, err)

	// 從未加入過的用戶什麼都看不到
	_, err = service.ListMessages(ctx, conv.ID, "user_mallory", false, 0, 10)
	assert.ErrorIs(t, err, errs.ErrNotMember)
	_, err = service.GetConversation(ctx, conv.ID, "user_mallory")
	assert.ErrorIs(t, err, errs.ErrNotMember)
}

func TestUnreadCount(t *testing.T) {
	service, repos := newTestService(t)
	ctx := context.Background()

	conv, err := repos.Conversations.GetOrCreateDirect(ctx, "user_alice", "user_bob")
	require.NoError(t, err)
	seedMessages(t, repos, conv.ID, "user_alice", 4)

	count, err := service.UnreadCount(ctx, conv.ID, "user_bob")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	require.NoError(t, repos.Cursors.AdvanceRead(ctx, conv.ID, "user_bob", 4))
	count, err = service.UnreadCount(ctx, conv.ID, "user_bob")
	require.NoError(t, err)
	assert.Zero(t, count)
}

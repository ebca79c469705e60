package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/cache"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
)

func newTestEngine(t *testing.T) (*Engine, *mocks.BackendMock, *mocks.ChannelMock) {
	t.Helper()
	backend := new(mocks.BackendMock)
	channel := new(mocks.ChannelMock)
	channel.On("Destroy").Return(nil).Maybe()
	channel.On("SendTyping", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	cfg := DefaultConfig("u1", "me")
	cfg.SendTimeout = time.Second
	cfg.TypingIdle = 40 * time.Millisecond
	cfg.TypingExpiry = 80 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond

	eng := New(cfg, backend, channel, cache.New(nil))
	t.Cleanup(func() { _ = eng.Close() })
	return eng, backend, channel
}

func at(sec int) time.Time {
	return time.Date(2024, 5, 1, 12, 0, sec, 0, time.UTC)
}

func TestLoadChatsUsesCacheWithinTTL(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	chats := []models.Chat{{ID: "chat-1", Name: "general"}}

	backend.On("ListChats", mock.Anything).Return(chats, nil).Once()

	first, err := eng.LoadChats(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Second load within the TTL issues no network call.
	second, err := eng.LoadChats(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, second, 1)
	backend.AssertNumberOfCalls(t, "ListChats", 1)

	// Forcing a refresh issues a second call regardless of TTL.
	backend.On("ListChats", mock.Anything).Return(chats, nil).Once()
	_, err = eng.LoadChats(context.Background(), true)
	require.NoError(t, err)
	backend.AssertNumberOfCalls(t, "ListChats", 2)
	backend.AssertExpectations(t)
}

func TestLoadMessagesSubscribesAndNormalizes(t *testing.T) {
	eng, backend, channel := newTestEngine(t)
	channel.On("Subscribe", mock.Anything, "chat-1").Return(nil)
	backend.On("ListMessages", mock.Anything, "chat-1").Return([]models.Message{
		{ID: "m1", SenderID: "u2", Body: "hi", CreatedAt: at(1)},
		{ID: "m2", SenderID: "u1", Body: "yo", CreatedAt: at(2)},
	}, nil).Once()

	msgs, err := eng.LoadMessages(context.Background(), "chat-1", false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.False(t, msgs[0].Own)
	assert.Equal(t, models.StatusDelivered, msgs[0].Status)
	assert.True(t, msgs[1].Own)
	assert.Equal(t, models.StatusSent, msgs[1].Status)

	// Cached within TTL: no refetch.
	_, err = eng.LoadMessages(context.Background(), "chat-1", false)
	require.NoError(t, err)
	backend.AssertNumberOfCalls(t, "ListMessages", 1)
}

func TestLoadMessagesDropsResultAfterUnsubscribe(t *testing.T) {
	eng, backend, channel := newTestEngine(t)
	channel.On("Subscribe", mock.Anything, "chat-1").Return(nil)
	channel.On("Unsubscribe", "chat-1").Return(nil)

	backend.On("ListMessages", mock.Anything, "chat-1").Run(func(mock.Arguments) {
		// Chat is torn down while the fetch is in flight.
		eng.UnsubscribeChat("chat-1")
	}).Return([]models.Message{{ID: "m1", SenderID: "u2", CreatedAt: at(1)}}, nil).Once()

	msgs, err := eng.LoadMessages(context.Background(), "chat-1", true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, eng.Messages("chat-1"))
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.SendMessage(context.Background(), "chat-1", "")
	require.ErrorIs(t, err, ErrEmptyBody)
}

func TestSendMessageViaChannelAck(t *testing.T) {
	eng, _, channel := newTestEngine(t)
	channel.On("Send", mock.Anything, "chat-1", mock.AnythingOfType("string"), "hello").
		Return(models.Message{ID: "m1", ChatID: "chat-1", SenderID: "u1", Body: "hello", CreatedAt: at(1)}, nil).Once()

	msg, err := eng.SendMessage(context.Background(), "chat-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	assert.True(t, msg.Own)

	msgs := eng.Messages("chat-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestSendMessageFallsBackToREST(t *testing.T) {
	eng, backend, channel := newTestEngine(t)
	channel.On("Send", mock.Anything, "chat-1", mock.AnythingOfType("string"), "hello").
		Return(models.Message{}, realtime.ErrNotConnected).Once()
	backend.On("SendMessage", mock.Anything, "chat-1", mock.AnythingOfType("string"), "hello").
		Return(models.Message{ID: "m1", ChatID: "chat-1", SenderID: "u1", Body: "hello", CreatedAt: at(1)}, nil).Once()

	msg, err := eng.SendMessage(context.Background(), "chat-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, models.StatusSent, msg.Status)
	backend.AssertExpectations(t)
}

func TestOptimisticAuthoritativeConvergence(t *testing.T) {
	eng, backend, channel := newTestEngine(t)
	channel.On("Send", mock.Anything, "chat-1", mock.AnythingOfType("string"), "hello").
		Return(models.Message{}, realtime.ErrNotConnected).Once()
	backend.On("SendMessage", mock.Anything, "chat-1", mock.AnythingOfType("string"), "hello").
		Return(models.Message{ID: "m1", ChatID: "chat-1", SenderID: "u1", Body: "hello", CreatedAt: at(1)}, nil).Once()

	msg, err := eng.SendMessage(context.Background(), "chat-1", "hello")
	require.NoError(t, err)

	// The realtime echo of the same logical message arrives afterwards.
	channel.Emit(models.Event{
		Type: models.EventMessageCreated,
		Message: &models.Message{
			ID: "m1", ClientID: msg.ClientID, ChatID: "chat-1",
			SenderID: "u1", Body: "hello", CreatedAt: at(1),
		},
	})

	msgs := eng.Messages("chat-1")
	require.Len(t, msgs, 1, "one logical message must never render twice")
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, models.StatusDelivered, msgs[0].Status)
}

func TestOfflineSendFailsThenRetrySucceedsWithoutDuplicate(t *testing.T) {
	eng, backend, channel := newTestEngine(t)
	channel.On("Send", mock.Anything, "chat-1", mock.AnythingOfType("string"), "Hello").
		Return(models.Message{}, realtime.ErrNotConnected).Twice()
	backend.On("SendMessage", mock.Anything, "chat-1", mock.AnythingOfType("string"), "Hello").
		Return(models.Message{}, assert.AnError).Once()

	_, err := eng.SendMessage(context.Background(), "chat-1", "Hello")
	require.Error(t, err)

	msgs := eng.Messages("chat-1")
	require.Len(t, msgs, 1)
	require.Equal(t, models.StatusFailed, msgs[0].Status)
	failedID := msgs[0].Key()

	backend.On("SendMessage", mock.Anything, "chat-1", msgs[0].ClientID, "Hello").
		Return(models.Message{ID: "m1", ChatID: "chat-1", SenderID: "u1", Body: "Hello", CreatedAt: at(1)}, nil).Once()

	retried, err := eng.RetryMessage(context.Background(), "chat-1", failedID)
	require.NoError(t, err)
	assert.Equal(t, "m1", retried.ID)
	assert.Equal(t, models.StatusSent, retried.Status)

	msgs = eng.Messages("chat-1")
	require.Len(t, msgs, 1, "retry must not duplicate the message")
	backend.AssertExpectations(t)
}

func TestRetryMessageGuards(t *testing.T) {
	eng, _, channel := newTestEngine(t)
	channel.On("Send", mock.Anything, "chat-1", mock.AnythingOfType("string"), "hi").
		Return(models.Message{ID: "m1", ChatID: "chat-1", SenderID: "u1", Body: "hi", CreatedAt: at(1)}, nil).Once()

	_, err := eng.RetryMessage(context.Background(), "chat-1", "missing")
	require.ErrorIs(t, err, ErrUnknownMessage)

	msg, err := eng.SendMessage(context.Background(), "chat-1", "hi")
	require.NoError(t, err)

	_, err = eng.RetryMessage(context.Background(), "chat-1", msg.ID)
	require.ErrorIs(t, err, ErrNotFailed)
}

func TestUnreadTotalConsistency(t *testing.T) {
	eng, backend, channel := newTestEngine(t)
	backend.On("ListChats", mock.Anything).Return([]models.Chat{
		{ID: "chat-1"}, {ID: "chat-2"},
	}, nil).Once()
	_, err := eng.LoadChats(context.Background(), false)
	require.NoError(t, err)

	channel.Emit(models.Event{Type: models.EventMessageCreated, Message: &models.Message{
		ID: "m1", ChatID: "chat-1", SenderID: "u2", Body: "a", CreatedAt: at(1)}})
	channel.Emit(models.Event{Type: models.EventMessageCreated, Message: &models.Message{
		ID: "m2", ChatID: "chat-1", SenderID: "u2", Body: "b", CreatedAt: at(2)}})
	channel.Emit(models.Event{Type: models.EventMessageCreated, Message: &models.Message{
		ID: "m3", ChatID: "chat-2", SenderID: "u2", Body: "c", CreatedAt: at(3)}})

	sum := 0
	for _, c := range eng.Chats() {
		sum += c.Unread
	}
	assert.Equal(t, 3, sum)
	assert.Equal(t, sum, eng.TotalUnread())

	backend.On("MarkChatRead", mock.Anything, "chat-1").Return(nil).Once()
	require.NoError(t, eng.MarkChatAsRead(context.Background(), "chat-1"))

	assert.Equal(t, 1, eng.TotalUnread())
	for _, m := range eng.Messages("chat-1") {
		assert.Equal(t, models.StatusRead, m.Status)
	}
	backend.AssertExpectations(t)
}

func TestConnectionStateTracksChannel(t *testing.T) {
	eng, _, channel := newTestEngine(t)
	assert.Equal(t, realtime.Disconnected, eng.ConnectionState())

	channel.EmitState(realtime.Connecting)
	channel.EmitState(realtime.Connected)
	assert.Equal(t, realtime.Connected, eng.ConnectionState())
}

func TestClearCache(t *testing.T) {
	eng, backend, _ := newTestEngine(t)
	backend.On("ListChats", mock.Anything).Return([]models.Chat{{ID: "chat-1"}}, nil).Twice()

	_, err := eng.LoadChats(context.Background(), false)
	require.NoError(t, err)
	eng.ClearCache()
	assert.Empty(t, eng.Chats())

	// Cleared cache forces a refetch.
	_, err = eng.LoadChats(context.Background(), false)
	require.NoError(t, err)
	backend.AssertExpectations(t)
}

func TestCreateOrGetDMLeavesChatSnapshotsUntouched(t *testing.T) {
	eng, backend, channel := newTestEngine(t)
	backend.On("ListChats", mock.Anything).Return([]models.Chat{
		{ID: "c2", LastMessageAt: at(2)},
		{ID: "c1", LastMessageAt: at(1)},
	}, nil).Once()
	_, err := eng.LoadChats(context.Background(), false)
	require.NoError(t, err)
	snapshot := eng.Chats()

	backend.On("CreateDM", mock.Anything, "u2").
		Return(models.Chat{ID: "dm-1", LastMessageAt: at(9)}, nil).Once()
	channel.On("Subscribe", mock.Anything, "dm-1").Return(nil).Once()

	_, err = eng.CreateOrGetDM(context.Background(), "u2")
	require.NoError(t, err)

	// The new chat sorts first; a snapshot taken before must not be reordered.
	require.Len(t, snapshot, 2)
	assert.Equal(t, "c2", snapshot[0].ID)
	assert.Equal(t, "c1", snapshot[1].ID)
	assert.Equal(t, "dm-1", eng.Chats()[0].ID)
}

func TestCreateOrGetDM(t *testing.T) {
	eng, backend, channel := newTestEngine(t)
	backend.On("ListChats", mock.Anything).Return([]models.Chat{{ID: "chat-1"}}, nil).Once()
	_, err := eng.LoadChats(context.Background(), false)
	require.NoError(t, err)

	backend.On("CreateDM", mock.Anything, "u2").Return(models.Chat{ID: "dm-1", Name: "bob"}, nil).Once()
	channel.On("Subscribe", mock.Anything, "dm-1").Return(nil).Once()

	chat, err := eng.CreateOrGetDM(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, models.ChatDirect, chat.Kind)
	assert.Len(t, eng.Chats(), 2)

	backend.AssertExpectations(t)
	channel.AssertExpectations(t)
}

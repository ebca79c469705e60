package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) ListChats(ctx context.Context) ([]models.Chat, error) {
	args := m.Called(ctx)
	var chats []models.Chat
	if val := args.Get(0); val != nil {
		chats = val.([]models.Chat)
	}
	return chats, args.Error(1)
}

func (m *BackendMock) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *BackendMock) CreateDM(ctx context.Context, peerID string) (models.Chat, error) {
	args := m.Called(ctx, peerID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *BackendMock) MarkChatRead(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *BackendMock) SendMessage(ctx context.Context, chatID, clientID, body string) (models.Message, error) {
	args := m.Called(ctx, chatID, clientID, body)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *BackendMock) ListDirectory(ctx context.Context, chatID string) ([]models.User, error) {
	args := m.Called(ctx, chatID)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

// ChannelMock is a scriptable realtime channel. Event and connection
// observers registered by the engine can be driven directly via Emit and
// EmitState.
type ChannelMock struct {
	mock.Mock

	eventHandlers []func(models.Event)
	stateHandlers []func(realtime.State)
}

func (m *ChannelMock) Subscribe(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ChannelMock) Unsubscribe(chatID string) error {
	args := m.Called(chatID)
	return args.Error(0)
}

func (m *ChannelMock) Send(ctx context.Context, chatID, clientID, body string) (models.Message, error) {
	args := m.Called(ctx, chatID, clientID, body)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChannelMock) SendTyping(ctx context.Context, chatID string, typing bool) error {
	args := m.Called(ctx, chatID, typing)
	return args.Error(0)
}

func (m *ChannelMock) OnEvent(fn func(models.Event)) func() {
	m.eventHandlers = append(m.eventHandlers, fn)
	return func() {}
}

func (m *ChannelMock) OnConnectionChange(fn func(realtime.State)) func() {
	m.stateHandlers = append(m.stateHandlers, fn)
	return func() {}
}

func (m *ChannelMock) Destroy() error {
	args := m.Called()
	return args.Error(0)
}

// Emit delivers an event to every registered observer.
func (m *ChannelMock) Emit(evt models.Event) {
	for _, fn := range m.eventHandlers {
		fn(evt)
	}
}

// EmitState delivers a connection state change to every registered observer.
func (m *ChannelMock) EmitState(s realtime.State) {
	for _, fn := range m.stateHandlers {
		fn(s)
	}
}

var _ api.Backend = (*BackendMock)(nil)
var _ realtime.Channel = (*ChannelMock)(nil)

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/cache"
	"chat-sync/internal/engine"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func setupRouter(t *testing.T) (*gin.Engine, *mocks.BackendMock, *mocks.ChannelMock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := new(mocks.BackendMock)
	channel := new(mocks.ChannelMock)
	channel.On("Destroy").Return(nil).Maybe()
	channel.On("SendTyping", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	cfg := engine.DefaultConfig("u1", "me")
	cfg.SendTimeout = time.Second
	eng := engine.New(cfg, backend, channel, cache.New(nil))
	t.Cleanup(func() { _ = eng.Close() })

	router := gin.New()
	NewSyncHandler(eng).Register(router)
	return router, backend, channel
}

func TestListChats(t *testing.T) {
	router, backend, _ := setupRouter(t)
	backend.On("ListChats", mock.Anything).Return([]models.Chat{{ID: "chat-1", Name: "general"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chats []models.Chat `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Chats, 1)
	backend.AssertExpectations(t)
}

func TestListChatsBackendError(t *testing.T) {
	router, backend, _ := setupRouter(t)
	backend.On("ListChats", mock.Anything).Return(([]models.Chat)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	backend.AssertExpectations(t)
}

func TestGetMessages(t *testing.T) {
	router, backend, channel := setupRouter(t)
	channel.On("Subscribe", mock.Anything, "chat-1").Return(nil)
	backend.On("ListMessages", mock.Anything, "chat-1").Return([]models.Message{
		{ID: "m1", ChatID: "chat-1", SenderID: "u2", Body: "hi", CreatedAt: time.Now()},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats/chat-1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
		Typing   []string         `json:"typing"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	backend.AssertExpectations(t)
}

func TestPostMessage(t *testing.T) {
	router, _, channel := setupRouter(t)
	channel.On("Send", mock.Anything, "chat-1", mock.AnythingOfType("string"), "hello").
		Return(models.Message{ID: "m1", ChatID: "chat-1", SenderID: "u1", Body: "hello", CreatedAt: time.Now()}, nil).Once()

	body := bytes.NewBufferString(`{"body":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, "m1", msg.ID)
	channel.AssertExpectations(t)
}

func TestPostMessageMissingBody(t *testing.T) {
	router, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/messages", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryUnknownMessage(t *testing.T) {
	router, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/messages/nope/retry", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkRead(t *testing.T) {
	router, backend, _ := setupRouter(t)
	backend.On("MarkChatRead", mock.Anything, "chat-1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	backend.AssertExpectations(t)
}

func TestTypingToggle(t *testing.T) {
	router, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/chats/chat-1/typing", bytes.NewBufferString(`{"typing":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/chats/chat-1/typing", bytes.NewBufferString(`{"typing":false}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCreateDM(t *testing.T) {
	router, backend, channel := setupRouter(t)
	backend.On("CreateDM", mock.Anything, "u2").Return(models.Chat{ID: "dm-1", Kind: models.ChatDirect}, nil).Once()
	channel.On("Subscribe", mock.Anything, "dm-1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/dms", bytes.NewBufferString(`{"peer_id":"u2"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	backend.AssertExpectations(t)
	channel.AssertExpectations(t)
}

func TestStatus(t *testing.T) {
	router, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "disconnected", resp["connection"])
}

func TestRefreshUnknownKind(t *testing.T) {
	router, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/cache/refresh?kind=bogus", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearCache(t *testing.T) {
	router, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodDelete, "/cache", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

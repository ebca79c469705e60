package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/api"
	"chat-sync/internal/engine"
)

// SyncHandler exposes the engine's reconciled view to the UI layer.
type SyncHandler struct {
	engine *engine.Engine
}

// NewSyncHandler builds a SyncHandler.
func NewSyncHandler(eng *engine.Engine) *SyncHandler {
	return &SyncHandler{engine: eng}
}

// Register wires the local API routes.
func (h *SyncHandler) Register(router gin.IRouter) {
	router.GET("/chats", h.ListChats)
	router.GET("/chats/:chat_id/messages", h.GetMessages)
	router.POST("/chats/:chat_id/messages", h.PostMessage)
	router.POST("/chats/:chat_id/messages/:message_id/retry", h.RetryMessage)
	router.POST("/chats/:chat_id/read", h.MarkRead)
	router.POST("/chats/:chat_id/typing", h.Typing)
	router.DELETE("/chats/:chat_id/subscription", h.Unsubscribe)
	router.POST("/dms", h.CreateDM)
	router.GET("/users", h.ListUsers)
	router.GET("/status", h.Status)
	router.POST("/cache/refresh", h.Refresh)
	router.DELETE("/cache", h.ClearCache)
}

// ListChats returns the chat list, refreshing when stale or when
// ?refresh=true forces it.
func (h *SyncHandler) ListChats(c *gin.Context) {
	force := c.Query("refresh") == "true"
	chats, err := h.engine.LoadChats(c.Request.Context(), force)
	if err != nil && len(chats) == 0 {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats, "total_unread": h.engine.TotalUnread()})
}

// GetMessages returns a chat's reconciled message list plus who is typing.
func (h *SyncHandler) GetMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	force := c.Query("refresh") == "true"
	msgs, err := h.engine.LoadMessages(c.Request.Context(), chatID, force)
	if err != nil && len(msgs) == 0 {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
		"typing":   h.engine.TypingUsers(chatID),
	})
}

// PostMessage performs an optimistic send.
func (h *SyncHandler) PostMessage(c *gin.Context) {
	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.SendMessage(c.Request.Context(), c.Param("chat_id"), req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// RetryMessage re-dispatches a failed message.
func (h *SyncHandler) RetryMessage(c *gin.Context) {
	msg, err := h.engine.RetryMessage(c.Request.Context(), c.Param("chat_id"), c.Param("message_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead posts the read marker for a chat. The UI calls this from an
// actively-reading context, not merely on opening the history view.
func (h *SyncHandler) MarkRead(c *gin.Context) {
	if err := h.engine.MarkChatAsRead(c.Request.Context(), c.Param("chat_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_unread": h.engine.TotalUnread()})
}

// Typing reports local keystroke activity.
func (h *SyncHandler) Typing(c *gin.Context) {
	var req struct {
		Typing *bool `json:"typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatID := c.Param("chat_id")
	if *req.Typing {
		h.engine.StartTyping(chatID)
	} else {
		h.engine.StopTyping(chatID)
	}
	c.Status(http.StatusNoContent)
}

// Unsubscribe releases a chat's realtime stream.
func (h *SyncHandler) Unsubscribe(c *gin.Context) {
	h.engine.UnsubscribeChat(c.Param("chat_id"))
	c.Status(http.StatusNoContent)
}

// CreateDM creates or fetches the direct-message chat with a peer.
func (h *SyncHandler) CreateDM(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.engine.CreateOrGetDM(c.Request.Context(), req.PeerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// ListUsers returns the user directory, optionally chat-scoped.
func (h *SyncHandler) ListUsers(c *gin.Context) {
	force := c.Query("refresh") == "true"
	users, err := h.engine.LoadUsers(c.Request.Context(), c.Query("chat_id"), force)
	if err != nil && len(users) == 0 {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Status reports connection state, per-operation flags, and the unread total.
func (h *SyncHandler) Status(c *gin.Context) {
	loading, errs := h.engine.Flags()
	c.JSON(http.StatusOK, gin.H{
		"connection":   h.engine.ConnectionState(),
		"loading":      loading,
		"errors":       errs,
		"total_unread": h.engine.TotalUnread(),
	})
}

// Refresh forces a fetch for one cache kind regardless of TTL.
func (h *SyncHandler) Refresh(c *gin.Context) {
	if err := h.engine.ForceRefresh(c.Request.Context(), c.Query("kind")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearCache drops the whole local cache.
func (h *SyncHandler) ClearCache(c *gin.Context) {
	h.engine.ClearCache()
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrEmptyBody), errors.Is(err, engine.ErrNotFailed),
		errors.Is(err, api.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, api.ErrPermission):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, api.ErrNotFound), errors.Is(err, engine.ErrUnknownMessage):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

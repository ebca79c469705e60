package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/api"
	"chat-sync/internal/cache"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/realtime"
)

var (
	// ErrEmptyBody rejects a send with no content.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrUnknownMessage is returned when a retry targets a message the store
	// does not hold.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrNotFailed is returned when a retry targets a message that is not in
	// the failed state.
	ErrNotFailed = errors.New("message is not in failed state")
)

// Config tunes the engine.
type Config struct {
	UserID        string
	UserName      string
	SendTimeout   time.Duration
	TypingIdle    time.Duration
	TypingExpiry  time.Duration
	SweepInterval time.Duration
}

// DefaultConfig fills the timing knobs for a user.
func DefaultConfig(userID, userName string) Config {
	return Config{
		UserID:        userID,
		UserName:      userName,
		SendTimeout:   10 * time.Second,
		TypingIdle:    2 * time.Second,
		TypingExpiry:  5 * time.Second,
		SweepInterval: time.Second,
	}
}

// Engine keeps the local view of chats, messages, typing state, and unread
// counts consistent across REST fetches, realtime pushes, and optimistic
// sends. All reads and writes flow through the cache store so ordering and
// de-duplication stay in one place.
type Engine struct {
	cfg     Config
	backend api.Backend
	channel realtime.Channel
	store   *cache.Store
	typing  *typingCoordinator

	mu        sync.Mutex
	loading   map[string]bool
	lastErr   map[string]string
	subs      map[string]bool
	connState realtime.State
	closed    bool

	unsubEvent func()
	unsubConn  func()
	sweepStop  chan struct{}
}

// New wires an Engine against a backend, a realtime channel, and a store.
func New(cfg Config, backend api.Backend, channel realtime.Channel, store *cache.Store) *Engine {
	e := &Engine{
		cfg:       cfg,
		backend:   backend,
		channel:   channel,
		store:     store,
		loading:   make(map[string]bool),
		lastErr:   make(map[string]string),
		subs:      make(map[string]bool),
		connState: realtime.Disconnected,
		sweepStop: make(chan struct{}),
	}
	e.typing = newTypingCoordinator(cfg.TypingIdle, cfg.TypingExpiry, e.announceTyping)
	e.unsubEvent = channel.OnEvent(e.handleEvent)
	e.unsubConn = channel.OnConnectionChange(func(s realtime.State) {
		e.mu.Lock()
		e.connState = s
		e.mu.Unlock()
	})
	go e.sweepLoop()
	return e
}

// Close releases the channel and stops background work.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.sweepStop)
	e.mu.Unlock()

	e.unsubEvent()
	e.unsubConn()
	e.typing.stopAll()
	return e.channel.Destroy()
}

func (e *Engine) sweepLoop() {
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.typing.sweep()
		case <-e.sweepStop:
			return
		}
	}
}

// LoadChats returns the chat list, hitting the backend only when the cached
// copy is stale or force is set.
func (e *Engine) LoadChats(ctx context.Context, force bool) ([]models.Chat, error) {
	if !force {
		if chats, ok := e.store.ChatsFresh(); ok {
			return chats, nil
		}
	}

	e.setLoading("chats", true)
	defer e.setLoading("chats", false)

	chats, err := e.backend.ListChats(ctx)
	if err != nil {
		e.setErr("chats", err)
		return e.store.Chats(), err
	}
	e.setErr("chats", nil)
	if chats == nil {
		// No data: leave the cache untouched.
		return e.store.Chats(), nil
	}
	sortChats(chats)
	e.store.SetChats(chats)
	return chats, nil
}

// LoadMessages subscribes the chat's realtime stream and returns its message
// page, fetching from the backend when stale or forced. Results arriving for
// a chat that was unsubscribed mid-flight are dropped.
func (e *Engine) LoadMessages(ctx context.Context, chatID string, force bool) ([]models.Message, error) {
	e.mu.Lock()
	e.subs[chatID] = true
	e.mu.Unlock()
	if err := e.channel.Subscribe(ctx, chatID); err != nil {
		log.Printf("realtime subscribe failed chat_id=%s: %v", chatID, err)
	}

	if !force {
		if msgs, ok := e.store.MessagesFresh(chatID); ok {
			return msgs, nil
		}
	}

	e.setLoading("messages", true)
	defer e.setLoading("messages", false)

	msgs, err := e.backend.ListMessages(ctx, chatID)
	if err != nil {
		e.setErr("messages", err)
		return e.store.Messages(chatID), err
	}
	e.setErr("messages", nil)

	e.mu.Lock()
	subscribed := e.subs[chatID]
	e.mu.Unlock()
	if !subscribed {
		return nil, nil
	}
	if msgs == nil {
		return e.store.Messages(chatID), nil
	}

	for i := range msgs {
		e.normalize(&msgs[i], chatID)
	}
	merged := e.store.MergeMessages(chatID, msgs)
	e.recomputeUnread(chatID)
	return merged, nil
}

// LoadUsers returns the user directory, chat-scoped when chatID is set, with
// the backend's general-directory fallback behind it.
func (e *Engine) LoadUsers(ctx context.Context, chatID string, force bool) ([]models.User, error) {
	if !force {
		if users, ok := e.store.UsersFresh(); ok {
			return users, nil
		}
	}

	e.setLoading("users", true)
	defer e.setLoading("users", false)

	users, err := e.backend.ListDirectory(ctx, chatID)
	if err != nil {
		e.setErr("users", err)
		return e.store.Users(), err
	}
	e.setErr("users", nil)
	if users == nil {
		return e.store.Users(), nil
	}
	e.store.SetUsers(users)
	return users, nil
}

// CreateOrGetDM creates or fetches the direct-message chat with peerID and
// subscribes its stream.
func (e *Engine) CreateOrGetDM(ctx context.Context, peerID string) (models.Chat, error) {
	chat, err := e.backend.CreateDM(ctx, peerID)
	if err != nil {
		e.setErr("chats", err)
		return models.Chat{}, err
	}
	e.setErr("chats", nil)
	if chat.Kind == "" {
		chat.Kind = models.ChatDirect
	}

	if !e.store.UpdateChat(chat.ID, func(c *models.Chat) { *c = chat }) {
		existing := e.store.Chats()
		chats := make([]models.Chat, 0, len(existing)+1)
		chats = append(chats, existing...)
		chats = append(chats, chat)
		sortChats(chats)
		e.store.SetChats(chats)
	}

	e.mu.Lock()
	e.subs[chat.ID] = true
	e.mu.Unlock()
	if err := e.channel.Subscribe(ctx, chat.ID); err != nil {
		log.Printf("realtime subscribe failed chat_id=%s: %v", chat.ID, err)
	}
	return chat, nil
}

// UnsubscribeChat releases a chat's realtime stream; in-flight fetch results
// for it are dropped once they resolve.
func (e *Engine) UnsubscribeChat(chatID string) {
	e.mu.Lock()
	delete(e.subs, chatID)
	e.mu.Unlock()
	if err := e.channel.Unsubscribe(chatID); err != nil {
		log.Printf("realtime unsubscribe failed chat_id=%s: %v", chatID, err)
	}
}

// SendMessage materializes an optimistic entry immediately, dispatches the
// send, and reconciles the authoritative result. A failed send stays visible
// in the failed state for RetryMessage.
func (e *Engine) SendMessage(ctx context.Context, chatID, body string) (models.Message, error) {
	if body == "" {
		return models.Message{}, ErrEmptyBody
	}

	msg := models.Message{
		ClientID:   uuid.NewString(),
		ChatID:     chatID,
		SenderID:   e.cfg.UserID,
		SenderName: e.cfg.UserName,
		Body:       body,
		CreatedAt:  time.Now(),
		Status:     models.StatusSending,
		Own:        true,
	}
	e.store.MergeMessages(chatID, []models.Message{msg})
	e.touchChatPreview(chatID, msg)
	e.StopTyping(chatID)

	return e.dispatch(ctx, msg)
}

// RetryMessage re-dispatches a failed message without duplicating it: the
// same client id rides the retry, so reconciliation lands on the original
// entry.
func (e *Engine) RetryMessage(ctx context.Context, chatID, messageID string) (models.Message, error) {
	var msg models.Message
	found := false
	for _, m := range e.store.Messages(chatID) {
		if m.ID == messageID || m.ClientID == messageID {
			msg = m
			found = true
			break
		}
	}
	if !found {
		return models.Message{}, ErrUnknownMessage
	}
	if msg.Status != models.StatusFailed {
		return msg, ErrNotFailed
	}

	observability.IncSendOutcome("retried")
	msg.Status = models.StatusSending
	e.store.UpdateMessage(chatID, msg.Key(), func(m *models.Message) bool {
		m.Status = models.StatusSending
		return true
	})
	return e.dispatch(ctx, msg)
}

// dispatch sends msg over the realtime channel when connected, otherwise via
// REST under the retry executor, then reconciles the authoritative copy.
func (e *Engine) dispatch(ctx context.Context, msg models.Message) (models.Message, error) {
	if e.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SendTimeout)
		defer cancel()
	}

	var authoritative models.Message
	var err error
	viaChannel := false

	authoritative, err = e.channel.Send(ctx, msg.ChatID, msg.ClientID, msg.Body)
	if err == nil {
		viaChannel = true
	} else if ctx.Err() == nil {
		// Channel down or errored: fall back to REST under the retry executor.
		authoritative, err = e.backend.SendMessage(ctx, msg.ChatID, msg.ClientID, msg.Body)
	}

	if err != nil {
		e.store.UpdateMessage(msg.ChatID, msg.Key(), func(m *models.Message) bool {
			if m.Status != models.StatusSending {
				return false
			}
			m.Status = models.StatusFailed
			return true
		})
		observability.IncSendOutcome("failed")
		e.setErr("send", err)
		e.publishSendFailed(msg, err)
		return models.Message{}, err
	}

	authoritative.ClientID = msg.ClientID
	authoritative.Own = true
	if authoritative.ChatID == "" {
		authoritative.ChatID = msg.ChatID
	}
	if authoritative.Status == "" || authoritative.Status == models.StatusSending {
		if viaChannel {
			authoritative.Status = models.StatusDelivered
		} else {
			authoritative.Status = models.StatusSent
		}
	}
	if viaChannel {
		observability.IncSendOutcome("delivered")
	} else {
		observability.IncSendOutcome("sent")
	}
	e.setErr("send", nil)

	merged := e.store.MergeMessages(msg.ChatID, []models.Message{authoritative})
	e.touchChatPreview(msg.ChatID, authoritative)
	for _, m := range merged {
		if m.ClientID == msg.ClientID {
			return m, nil
		}
	}
	return authoritative, nil
}

// MarkChatAsRead posts the read marker and recomputes unread counts from
// message statuses. Callers invoke it from an actively-reading context, not
// merely on opening a history view.
func (e *Engine) MarkChatAsRead(ctx context.Context, chatID string) error {
	if err := e.backend.MarkChatRead(ctx, chatID); err != nil {
		e.setErr("read", err)
		return err
	}
	e.setErr("read", nil)

	msgs := e.store.Messages(chatID)
	updates := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Own && m.Status != models.StatusRead {
			m.Status = models.StatusRead
			updates = append(updates, m)
		}
	}
	if len(updates) > 0 {
		e.store.MergeMessages(chatID, updates)
	}
	e.recomputeUnread(chatID)
	return nil
}

// ClearCache drops everything cached.
func (e *Engine) ClearCache() {
	e.store.InvalidateAll()
}

// ForceRefresh bypasses TTLs for one kind, or for everything when kind is
// empty.
func (e *Engine) ForceRefresh(ctx context.Context, kind string) error {
	switch kind {
	case "chats":
		_, err := e.LoadChats(ctx, true)
		return err
	case "users":
		_, err := e.LoadUsers(ctx, "", true)
		return err
	case "messages":
		e.mu.Lock()
		chats := make([]string, 0, len(e.subs))
		for chatID := range e.subs {
			chats = append(chats, chatID)
		}
		e.mu.Unlock()
		var firstErr error
		for _, chatID := range chats {
			if _, err := e.LoadMessages(ctx, chatID, true); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case "":
		if _, err := e.LoadChats(ctx, true); err != nil {
			return err
		}
		_, err := e.LoadUsers(ctx, "", true)
		return err
	default:
		return fmt.Errorf("%w: unknown refresh kind %q", api.ErrValidation, kind)
	}
}

// Chats reads the cached chat list.
func (e *Engine) Chats() []models.Chat { return e.store.Chats() }

// Messages reads a chat's cached messages.
func (e *Engine) Messages(chatID string) []models.Message { return e.store.Messages(chatID) }

// Users reads the cached directory.
func (e *Engine) Users() []models.User { return e.store.Users() }

// ConnectionState reports the realtime channel state.
func (e *Engine) ConnectionState() realtime.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connState
}

// Subscribe registers a re-render observer over the store.
func (e *Engine) Subscribe(fn func()) func() { return e.store.Subscribe(fn) }

// Flags returns loading and error indicators per operation.
func (e *Engine) Flags() (loading map[string]bool, errs map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	loading = make(map[string]bool, len(e.loading))
	for k, v := range e.loading {
		if v {
			loading[k] = true
		}
	}
	errs = make(map[string]string, len(e.lastErr))
	for k, v := range e.lastErr {
		if v != "" {
			errs[k] = v
		}
	}
	return loading, errs
}

func (e *Engine) setLoading(op string, v bool) {
	e.mu.Lock()
	e.loading[op] = v
	e.mu.Unlock()
}

func (e *Engine) setErr(op string, err error) {
	e.mu.Lock()
	if err == nil {
		e.lastErr[op] = ""
	} else {
		e.lastErr[op] = err.Error()
	}
	e.mu.Unlock()
}

func (e *Engine) normalize(m *models.Message, chatID string) {
	if m.ChatID == "" {
		m.ChatID = chatID
	}
	m.Own = m.SenderID == e.cfg.UserID
	if m.Status == "" {
		if m.Own {
			m.Status = models.StatusSent
		} else {
			m.Status = models.StatusDelivered
		}
	}
}

func (e *Engine) touchChatPreview(chatID string, msg models.Message) {
	e.store.UpdateChat(chatID, func(c *models.Chat) {
		if msg.CreatedAt.Before(c.LastMessageAt) {
			return
		}
		c.LastMessage = msg.Body
		c.LastMessageAt = msg.CreatedAt
	})
}

func (e *Engine) publishSendFailed(msg models.Message, err error) {
	payload := map[string]interface{}{
		"send": map[string]interface{}{
			"chat_id":   msg.ChatID,
			"client_id": msg.ClientID,
			"reason":    err.Error(),
		},
	}
	_ = observability.PublishEvent(context.Background(), "sync_events.sends", observability.EventEnvelope{
		EventType: "sync_events",
		EventName: "send_failed",
		Payload:   payload,
	}, nil)
}

func sortChats(chats []models.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastMessageAt.After(chats[j].LastMessageAt)
	})
}

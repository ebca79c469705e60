package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/retry"
)

// Config holds the websocket channel settings.
type Config struct {
	URL         string
	Token       string
	Heartbeat   time.Duration
	PongTimeout time.Duration
	Backoff     retry.Policy
}

// DefaultConfig fills the timing knobs.
func DefaultConfig(url, token string) Config {
	return Config{
		URL:         url,
		Token:       token,
		Heartbeat:   20 * time.Second,
		PongTimeout: 45 * time.Second,
		Backoff:     retry.Policy{MaxRetries: 0, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	}
}

// frame is the control message written to the channel.
type frame struct {
	Action   string `json:"action"`
	ChatID   string `json:"chat_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Body     string `json:"body,omitempty"`
	Typing   bool   `json:"typing,omitempty"`
}

// Client is the websocket implementation of Channel. One shared connection
// carries every chat subscription; it reconnects with backoff and
// resubscribes after a drop.
type Client struct {
	cfg    Config
	sm     *StateMachine
	connID string

	mu          sync.Mutex
	conn        *websocket.Conn
	subs        map[string]bool
	pending     map[string]chan models.Message
	handlers    map[int]func(models.Event)
	nextHandler int
	closed      bool
	dialing     bool

	writeMu sync.Mutex
	done    chan struct{}
}

// NewClient builds a Client. No connection is made until the first Subscribe.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:      cfg,
		sm:       NewStateMachine(),
		connID:   uuid.NewString(),
		subs:     make(map[string]bool),
		pending:  make(map[string]chan models.Message),
		handlers: make(map[int]func(models.Event)),
		done:     make(chan struct{}),
	}
}

var _ Channel = (*Client)(nil)

// StateMachine exposes the lifecycle state for direct reads.
func (c *Client) StateMachine() *StateMachine { return c.sm }

// Subscribe registers interest in chatID. Idempotent.
func (c *Client) Subscribe(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.subs[chatID] {
		c.mu.Unlock()
		return nil
	}
	c.subs[chatID] = true
	conn := c.conn
	startDial := !c.dialing && conn == nil
	if startDial {
		c.dialing = true
	}
	c.mu.Unlock()

	if startDial {
		go c.connectLoop()
		return nil
	}
	if conn != nil {
		return c.writeFrame(conn, frame{Action: "subscribe", ChatID: chatID})
	}
	return nil
}

// Unsubscribe releases chatID's stream; further events for it are dropped.
func (c *Client) Unsubscribe(chatID string) error {
	c.mu.Lock()
	delete(c.subs, chatID)
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return c.writeFrame(conn, frame{Action: "unsubscribe", ChatID: chatID})
	}
	return nil
}

// Send writes the message frame and waits for the created acknowledgment
// matched by client id.
func (c *Client) Send(ctx context.Context, chatID, clientID, body string) (models.Message, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.sm.State() != Connected {
		c.mu.Unlock()
		return models.Message{}, ErrNotConnected
	}
	ack := make(chan models.Message, 1)
	c.pending[clientID] = ack
	c.mu.Unlock()

	clear := func() {
		c.mu.Lock()
		delete(c.pending, clientID)
		c.mu.Unlock()
	}

	if err := c.writeFrame(conn, frame{Action: "send", ChatID: chatID, ClientID: clientID, Body: body}); err != nil {
		clear()
		return models.Message{}, err
	}

	select {
	case msg := <-ack:
		return msg, nil
	case <-ctx.Done():
		clear()
		return models.Message{}, ctx.Err()
	case <-c.done:
		clear()
		return models.Message{}, ErrNotConnected
	}
}

// SendTyping announces local typing state. Best effort: failures are the
// caller's to ignore.
func (c *Client) SendTyping(ctx context.Context, chatID string, typing bool) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeFrame(conn, frame{Action: "typing", ChatID: chatID, Typing: typing})
}

// OnEvent registers an event observer.
func (c *Client) OnEvent(fn func(models.Event)) func() {
	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// OnConnectionChange registers a lifecycle observer.
func (c *Client) OnConnectionChange(fn func(State)) func() {
	return c.sm.OnChange(fn)
}

// Destroy tears down the connection and stops all loops.
func (c *Client) Destroy() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.sm.To(Disconnected)
	c.publishLifecycle("ws_disconnect", "destroyed")
	return nil
}

func (c *Client) connectLoop() {
	attempt := 0
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.sm.To(Connecting)
		header := http.Header{}
		if c.cfg.Token != "" {
			header.Set("Authorization", "Bearer "+c.cfg.Token)
		}
		conn, resp, err := websocket.DefaultDialer.Dial(c.cfg.URL, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			log.Printf("realtime dial failed url=%s attempt=%d: %v", c.cfg.URL, attempt, err)
			c.sm.To(Degraded)
			observability.IncReconnect()
			if !c.waitBackoff(attempt) {
				return
			}
			attempt++
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		attempt = 0
		c.sm.To(Connected)
		c.publishLifecycle("ws_connect", "")
		c.resubscribeAll(conn)
		go c.pingLoop(conn)

		reason := c.readLoop(conn)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		c.sm.To(Degraded)
		c.publishLifecycle("ws_disconnect", reason)
		observability.IncReconnect()
		if !c.waitBackoff(0) {
			return
		}
	}
}

func (c *Client) waitBackoff(attempt int) bool {
	delay := c.cfg.Backoff.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if c.cfg.Backoff.MaxDelay > 0 && delay >= c.cfg.Backoff.MaxDelay {
			delay = c.cfg.Backoff.MaxDelay
			break
		}
	}
	select {
	case <-time.After(delay):
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) resubscribeAll(conn *websocket.Conn) {
	c.mu.Lock()
	chats := make([]string, 0, len(c.subs))
	for chatID := range c.subs {
		chats = append(chats, chatID)
	}
	c.mu.Unlock()
	for _, chatID := range chats {
		if err := c.writeFrame(conn, frame{Action: "subscribe", ChatID: chatID}); err != nil {
			log.Printf("resubscribe failed chat_id=%s: %v", chatID, err)
			return
		}
	}
}

// readLoop consumes events until the connection errors; the returned string
// is the close reason.
func (c *Client) readLoop(conn *websocket.Conn) string {
	deadline := func() {
		if c.cfg.PongTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		}
	}
	deadline()
	conn.SetPongHandler(func(string) error {
		deadline()
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("realtime read error conn_id=%s: %v", c.connID, err)
			}
			return err.Error()
		}
		deadline()

		var evt models.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			log.Printf("realtime event decode error: %v", err)
			continue
		}
		c.dispatch(evt)
	}
}

func (c *Client) dispatch(evt models.Event) {
	c.mu.Lock()
	if evt.Type == models.EventMessageCreated && evt.Message != nil && evt.Message.ClientID != "" {
		if ack, ok := c.pending[evt.Message.ClientID]; ok {
			delete(c.pending, evt.Message.ClientID)
			ack <- *evt.Message
		}
	}
	subscribed := evt.ChatID == "" || c.subs[evt.ChatID]
	fns := make([]func(models.Event), 0, len(c.handlers))
	if subscribed {
		for _, fn := range c.handlers {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()

	if !subscribed {
		return
	}
	observability.IncRealtimeEvent(evt.Type)
	for _, fn := range fns {
		fn(evt)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	if c.cfg.Heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (c *Client) publishLifecycle(event, reason string) {
	payload := map[string]interface{}{
		"realtime": map[string]interface{}{
			"event":   event,
			"conn_id": c.connID,
			"url":     c.cfg.URL,
			"reason":  reason,
		},
	}
	_ = observability.PublishEvent(context.Background(), "sync_events.realtime", observability.EventEnvelope{
		EventType: "sync_events",
		EventName: event,
		Payload:   payload,
	}, nil)
}

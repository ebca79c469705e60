package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/retry"
)

// Backend is the REST surface of the external chat backend. The engine only
// depends on this interface so tests can substitute a fake.
type Backend interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	CreateDM(ctx context.Context, peerID string) (models.Chat, error)
	MarkChatRead(ctx context.Context, chatID string) error
	SendMessage(ctx context.Context, chatID, clientID, body string) (models.Message, error)
	ListDirectory(ctx context.Context, chatID string) ([]models.User, error)
}

// Client is the HTTP implementation of Backend. Every call runs under the
// retry executor; permission and validation failures are marked permanent so
// they surface immediately.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	policy  retry.Policy
}

// NewClient builds a Client against baseURL authenticating with token.
func NewClient(baseURL, token string, policy retry.Policy) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		policy:  policy,
	}
}

var _ Backend = (*Client)(nil)

// ListChats fetches the chat list for the current user.
func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var out struct {
		Chats []models.Chat `json:"chats"`
	}
	err := c.call(ctx, "list_chats", http.MethodGet, "/chats", nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Chats, nil
}

// ListMessages fetches a page of messages for a chat.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	path := fmt.Sprintf("/chats/%s/messages", chatID)
	err := c.call(ctx, "list_messages", http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// CreateDM creates or returns the direct-message chat with peerID.
func (c *Client) CreateDM(ctx context.Context, peerID string) (models.Chat, error) {
	req := map[string]string{"peer_id": peerID}
	var out models.Chat
	err := c.call(ctx, "create_dm", http.MethodPost, "/chats/start", req, &out)
	return out, err
}

// MarkChatRead posts a read marker for the chat.
func (c *Client) MarkChatRead(ctx context.Context, chatID string) error {
	path := fmt.Sprintf("/chats/%s/read", chatID)
	return c.call(ctx, "mark_read", http.MethodPost, path, nil, nil)
}

// SendMessage posts a message; the server echoes the client id back in the
// created message so the optimistic copy can be reconciled.
func (c *Client) SendMessage(ctx context.Context, chatID, clientID, body string) (models.Message, error) {
	req := map[string]string{"client_id": clientID, "body": body}
	var out models.Message
	path := fmt.Sprintf("/chats/%s/messages", chatID)
	err := c.call(ctx, "send_message", http.MethodPost, path, req, &out)
	return out, err
}

// ListDirectory fetches the chat-scoped participant directory, falling back
// to the general directory endpoint when the scoped call fails.
func (c *Client) ListDirectory(ctx context.Context, chatID string) ([]models.User, error) {
	var out struct {
		Users []models.User `json:"users"`
	}
	if chatID != "" {
		path := fmt.Sprintf("/chats/%s/directory", chatID)
		err := c.call(ctx, "list_directory", http.MethodGet, path, nil, &out)
		if err == nil {
			return out.Users, nil
		}
		log.Printf("chat directory fetch failed, falling back to general directory: %v", err)
	}
	err := c.call(ctx, "list_directory_fallback", http.MethodGet, "/directory", nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Users, nil
}

// call performs one REST operation under the retry executor with a span per
// operation.
func (c *Client) call(ctx context.Context, op, method, path string, reqBody, respBody any) error {
	ctx, span := otel.Tracer("chat-sync/api").Start(ctx, "api."+op)
	defer span.End()

	err := retry.Do(ctx, op, c.policy, func(ctx context.Context) error {
		return c.doOnce(ctx, method, path, reqBody, respBody)
	})
	if err != nil {
		observability.IncBackendRequest(op, "error")
		return err
	}
	observability.IncBackendRequest(op, "ok")
	return nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return retry.Permanent(fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return retry.Permanent(err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("%w: %s %s", ErrPermission, method, path))
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(fmt.Errorf("%w: %s %s", ErrNotFound, method, path))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("%w: %s %s: status %d", ErrValidation, method, path, resp.StatusCode))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if respBody == nil {
		return nil
	}
	// A malformed or empty body reads as no data rather than an error; the
	// caller's cache entry stays unchanged.
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil && err != io.EOF {
		log.Printf("decode response %s %s: %v", method, path, err)
	}
	return nil
}

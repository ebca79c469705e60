package realtime

import (
	"context"
	"errors"

	"chat-sync/internal/models"
)

// ErrNotConnected is returned when an operation needs a live channel.
var ErrNotConnected = errors.New("realtime channel not connected")

// Channel is the realtime push channel the engine consumes. The websocket
// Client implements it; tests substitute a fake.
type Channel interface {
	// Subscribe registers interest in a chat's events. Subscribing to an
	// already-subscribed chat is a no-op. The first subscribe drives the
	// connection out of Disconnected.
	Subscribe(ctx context.Context, chatID string) error
	// Unsubscribe releases the chat's stream; events for it are no longer
	// dispatched even if still in flight.
	Unsubscribe(chatID string) error
	// Send dispatches a message over the channel and waits for the created
	// acknowledgment. Returns ErrNotConnected when the channel is down.
	Send(ctx context.Context, chatID, clientID, body string) (models.Message, error)
	// SendTyping announces local typing state for a chat.
	SendTyping(ctx context.Context, chatID string, typing bool) error
	// OnEvent registers an event observer; the returned function removes it.
	OnEvent(fn func(models.Event)) func()
	// OnConnectionChange registers a connection state observer.
	OnConnectionChange(fn func(State)) func()
	// Destroy tears the channel down and releases all resources.
	Destroy() error
}

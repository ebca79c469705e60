package models

// Event types delivered over the realtime channel.
const (
	EventMessageCreated  = "message.created"
	EventMessageRead     = "message.read"
	EventTypingStart     = "typing.start"
	EventTypingStop      = "typing.stop"
	EventPresenceChanged = "presence.changed"
)

// Event is the envelope pushed by the realtime channel.
type Event struct {
	Type      string   `json:"type"`
	ChatID    string   `json:"chat_id,omitempty"`
	Message   *Message `json:"message,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Online    bool     `json:"online,omitempty"`
}

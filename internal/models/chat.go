package models

import "time"

// ChatKind distinguishes direct-message pairs from group conversations.
type ChatKind string

const (
	ChatDirect ChatKind = "dm"
	ChatGroup  ChatKind = "group"
)

// Chat is the client's view of one conversation.
type Chat struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Kind          ChatKind  `json:"kind"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	Unread        int       `json:"unread"`
	Participants  []string  `json:"participants,omitempty"`
}

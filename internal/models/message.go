package models

import "time"

// DeliveryStatus tracks a message through its send lifecycle.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

var statusRank = map[DeliveryStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Rank orders the non-failed statuses so merges never downgrade a message.
// Failed ranks below everything; a later authoritative copy overrides it.
func (s DeliveryStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Message is one chat message. The body is immutable; only Status changes.
// ClientID is the locally generated id carried through the send round trip
// and echoed back by the server, used to match the optimistic copy.
type Message struct {
	ID         string         `json:"id"`
	ClientID   string         `json:"client_id,omitempty"`
	ChatID     string         `json:"chat_id"`
	SenderID   string         `json:"sender_id"`
	SenderName string         `json:"sender_name,omitempty"`
	Body       string         `json:"body"`
	CreatedAt  time.Time      `json:"created_at"`
	Status     DeliveryStatus `json:"status"`
	Own        bool           `json:"own"`
}

// Key returns the identity used for de-duplication: the server id once
// assigned, otherwise the client id.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientID
}

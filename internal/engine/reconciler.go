package engine

import (
	"chat-sync/internal/models"
)

// handleEvent folds one realtime event into the store. Out-of-order delivery
// is absorbed by the merge-and-sort in the cache store; arrival order is
// never taken as temporal order.
func (e *Engine) handleEvent(evt models.Event) {
	switch evt.Type {
	case models.EventMessageCreated:
		e.onMessageCreated(evt)
	case models.EventMessageRead:
		e.onMessageRead(evt)
	case models.EventTypingStart:
		e.typing.remoteStart(evt.ChatID, evt.UserID)
	case models.EventTypingStop:
		e.typing.remoteStop(evt.ChatID, evt.UserID)
	case models.EventPresenceChanged:
		e.onPresenceChanged(evt)
	}
}

// onMessageCreated merges the pushed message. If its client id matches a
// pending optimistic entry the merge replaces that entry, so the list never
// shows two rows for one logical message.
func (e *Engine) onMessageCreated(evt models.Event) {
	if evt.Message == nil {
		return
	}
	msg := *evt.Message
	chatID := msg.ChatID
	if chatID == "" {
		chatID = evt.ChatID
		msg.ChatID = chatID
	}
	if chatID == "" {
		return
	}

	msg.Own = msg.SenderID == e.cfg.UserID
	if msg.Status == "" || msg.Status == models.StatusSending {
		msg.Status = models.StatusDelivered
	}
	// A sender who pushed a message is clearly done typing.
	e.typing.remoteStop(chatID, msg.SenderID)

	e.store.MergeMessages(chatID, []models.Message{msg})
	e.touchChatPreview(chatID, msg)
	e.recomputeUnread(chatID)
}

// onMessageRead advances the target message to read and recomputes the
// chat's unread count.
func (e *Engine) onMessageRead(evt models.Event) {
	if evt.ChatID == "" || evt.MessageID == "" {
		return
	}
	e.store.UpdateMessage(evt.ChatID, evt.MessageID, func(m *models.Message) bool {
		if m.Status.Rank() >= models.StatusRead.Rank() {
			return false
		}
		m.Status = models.StatusRead
		return true
	})
	e.recomputeUnread(evt.ChatID)
}

// onPresenceChanged updates the cached directory entry in place.
func (e *Engine) onPresenceChanged(evt models.Event) {
	if evt.UserID == "" {
		return
	}
	users := e.store.Users()
	for i := range users {
		if users[i].ID == evt.UserID {
			if users[i].Online == evt.Online {
				return
			}
			updated := make([]models.User, len(users))
			copy(updated, users)
			updated[i].Online = evt.Online
			e.store.SetUsers(updated)
			return
		}
	}
}

package engine

import "chat-sync/internal/models"

// recomputeUnread derives a chat's unread count from message statuses rather
// than incrementing ad hoc, so the count cannot drift.
func (e *Engine) recomputeUnread(chatID string) {
	count := 0
	for _, m := range e.store.Messages(chatID) {
		if !m.Own && m.Status != models.StatusRead {
			count++
		}
	}
	e.store.UpdateChat(chatID, func(c *models.Chat) {
		c.Unread = count
	})
}

// TotalUnread sums unread counts across all cached chats. Pure read: it never
// triggers network I/O.
func (e *Engine) TotalUnread() int {
	total := 0
	for _, c := range e.store.Chats() {
		total += c.Unread
	}
	return total
}

package engine

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// typingCoordinator debounces local keystroke bursts into start/stop signals
// and timeboxes remote typing entries so a peer that drops mid-type never
// leaves a permanent indicator.
type typingCoordinator struct {
	mu     sync.Mutex
	local  map[string]*localTyping
	remote map[string]map[string]time.Time
	idle   time.Duration
	expiry time.Duration
	now    func() time.Time
	send   func(chatID string, typing bool)
}

// localTyping is the explicit timer-holding debounce state for one chat.
type localTyping struct {
	announced bool
	timer     *time.Timer
}

func newTypingCoordinator(idle, expiry time.Duration, send func(chatID string, typing bool)) *typingCoordinator {
	if idle <= 0 {
		idle = 2 * time.Second
	}
	if expiry <= 0 {
		expiry = 5 * time.Second
	}
	return &typingCoordinator{
		local:  make(map[string]*localTyping),
		remote: make(map[string]map[string]time.Time),
		idle:   idle,
		expiry: expiry,
		now:    time.Now,
		send:   send,
	}
}

// start announces typing once per burst and re-arms the inactivity timer.
func (t *typingCoordinator) start(chatID string) {
	t.mu.Lock()
	lt, ok := t.local[chatID]
	if !ok {
		lt = &localTyping{}
		t.local[chatID] = lt
	}
	announce := !lt.announced
	lt.announced = true
	if lt.timer != nil {
		lt.timer.Stop()
	}
	lt.timer = time.AfterFunc(t.idle, func() { t.stop(chatID) })
	t.mu.Unlock()

	if announce {
		t.send(chatID, true)
	}
}

// stop clears the announced flag and signals the peer, if a burst was active.
func (t *typingCoordinator) stop(chatID string) {
	t.mu.Lock()
	lt, ok := t.local[chatID]
	if !ok || !lt.announced {
		t.mu.Unlock()
		return
	}
	lt.announced = false
	if lt.timer != nil {
		lt.timer.Stop()
		lt.timer = nil
	}
	t.mu.Unlock()

	t.send(chatID, false)
}

func (t *typingCoordinator) stopAll() {
	t.mu.Lock()
	chats := make([]string, 0, len(t.local))
	for chatID, lt := range t.local {
		if lt.timer != nil {
			lt.timer.Stop()
			lt.timer = nil
		}
		if lt.announced {
			lt.announced = false
			chats = append(chats, chatID)
		}
	}
	t.mu.Unlock()
	for _, chatID := range chats {
		t.send(chatID, false)
	}
}

// remoteStart records a peer's typing signal with a fresh expiry.
func (t *typingCoordinator) remoteStart(chatID, userID string) {
	if chatID == "" || userID == "" {
		return
	}
	t.mu.Lock()
	users, ok := t.remote[chatID]
	if !ok {
		users = make(map[string]time.Time)
		t.remote[chatID] = users
	}
	users[userID] = t.now().Add(t.expiry)
	t.mu.Unlock()
}

// remoteStop clears a peer's typing entry.
func (t *typingCoordinator) remoteStop(chatID, userID string) {
	t.mu.Lock()
	if users, ok := t.remote[chatID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.remote, chatID)
		}
	}
	t.mu.Unlock()
}

// users returns the unexpired typing user ids for a chat, dropping expired
// entries as it reads.
func (t *typingCoordinator) users(chatID string) []string {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, ok := t.remote[chatID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(entries))
	for userID, expires := range entries {
		if now.After(expires) {
			delete(entries, userID)
			continue
		}
		out = append(out, userID)
	}
	if len(entries) == 0 {
		delete(t.remote, chatID)
	}
	sort.Strings(out)
	return out
}

// sweep removes expired remote entries across all chats.
func (t *typingCoordinator) sweep() {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for chatID, entries := range t.remote {
		for userID, expires := range entries {
			if now.After(expires) {
				delete(entries, userID)
			}
		}
		if len(entries) == 0 {
			delete(t.remote, chatID)
		}
	}
}

// StartTyping reports local keystroke activity for a chat.
func (e *Engine) StartTyping(chatID string) { e.typing.start(chatID) }

// StopTyping ends the local typing burst for a chat.
func (e *Engine) StopTyping(chatID string) { e.typing.stop(chatID) }

// TypingUsers returns the peers currently typing in a chat.
func (e *Engine) TypingUsers(chatID string) []string { return e.typing.users(chatID) }

func (e *Engine) announceTyping(chatID string, typing bool) {
	if err := e.channel.SendTyping(context.Background(), chatID, typing); err != nil {
		log.Printf("typing indicator send failed chat_id=%s typing=%t: %v", chatID, typing, err)
	}
}

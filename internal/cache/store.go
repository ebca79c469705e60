package cache

import (
	"sort"
	"sync"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// Kind selects a cache namespace with its own TTL.
type Kind string

const (
	KindChats    Kind = "chats"
	KindMessages Kind = "messages"
	KindUsers    Kind = "users"
)

// TTLConfig maps each kind to its time-to-live.
type TTLConfig map[Kind]time.Duration

// DefaultTTLs returns the stock TTL policy: chat list 60s, message pages
// shorter, directory entries longer.
func DefaultTTLs() TTLConfig {
	return TTLConfig{
		KindChats:    60 * time.Second,
		KindMessages: 20 * time.Second,
		KindUsers:    5 * time.Minute,
	}
}

type entry struct {
	value     any
	fetchedAt time.Time
}

// Store is the in-memory, time-boxed cache every other component reads from
// and writes through. All mutation goes through Set/Invalidate/MergeMessages/
// UpdateMessage so de-duplication and ordering stay centralized.
type Store struct {
	mu           sync.RWMutex
	entries      map[string]entry
	ttls         TTLConfig
	observers    map[int]func()
	nextObserver int
	now          func() time.Time
}

// New builds a Store with the given TTL policy. Missing kinds never expire.
func New(ttls TTLConfig) *Store {
	if ttls == nil {
		ttls = DefaultTTLs()
	}
	return &Store{
		entries:   make(map[string]entry),
		ttls:      ttls,
		observers: make(map[int]func()),
		now:       time.Now,
	}
}

func cacheKey(kind Kind, key string) string {
	return string(kind) + ":" + key
}

// Get returns the cached value if present and within its TTL. A stale entry
// reads as absent; it is never an error.
func (s *Store) Get(kind Kind, key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[cacheKey(kind, key)]
	ttl := s.ttls[kind]
	now := s.now()
	s.mu.RUnlock()

	if !ok {
		observability.IncCacheMiss(string(kind))
		return nil, false
	}
	if ttl > 0 && now.Sub(e.fetchedAt) > ttl {
		observability.IncCacheStale(string(kind))
		return nil, false
	}
	observability.IncCacheHit(string(kind))
	return e.value, true
}

// Peek returns the cached value regardless of staleness. UI reads use this:
// staleness is advisory and drives refreshes, not blank screens.
func (s *Store) Peek(kind Kind, key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[cacheKey(kind, key)]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set stores value under kind/key stamped with the current time.
func (s *Store) Set(kind Kind, key string, value any) {
	s.mu.Lock()
	s.entries[cacheKey(kind, key)] = entry{value: value, fetchedAt: s.now()}
	s.mu.Unlock()
	s.notify()
}

// Invalidate drops a single entry.
func (s *Store) Invalidate(kind Kind, key string) {
	s.mu.Lock()
	delete(s.entries, cacheKey(kind, key))
	s.mu.Unlock()
	s.notify()
}

// InvalidateAll clears the whole store.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
	s.notify()
}

// Subscribe registers an observer called after every mutation. The returned
// function removes it.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

const allKey = "all"

// SetChats replaces the chat list.
func (s *Store) SetChats(chats []models.Chat) {
	s.Set(KindChats, allKey, chats)
}

// Chats returns the cached chat list ignoring TTL.
func (s *Store) Chats() []models.Chat {
	v, ok := s.Peek(KindChats, allKey)
	if !ok {
		return nil
	}
	chats, _ := v.([]models.Chat)
	return chats
}

// ChatsFresh reports the chat list only while within TTL.
func (s *Store) ChatsFresh() ([]models.Chat, bool) {
	v, ok := s.Get(KindChats, allKey)
	if !ok {
		return nil, false
	}
	chats, _ := v.([]models.Chat)
	return chats, true
}

// SetUsers replaces the user directory.
func (s *Store) SetUsers(users []models.User) {
	s.Set(KindUsers, allKey, users)
}

// Users returns the cached directory ignoring TTL.
func (s *Store) Users() []models.User {
	v, ok := s.Peek(KindUsers, allKey)
	if !ok {
		return nil
	}
	users, _ := v.([]models.User)
	return users
}

// UsersFresh reports the directory only while within TTL.
func (s *Store) UsersFresh() ([]models.User, bool) {
	v, ok := s.Get(KindUsers, allKey)
	if !ok {
		return nil, false
	}
	users, _ := v.([]models.User)
	return users, true
}

// Messages returns the merged message list for a chat ignoring TTL.
func (s *Store) Messages(chatID string) []models.Message {
	v, ok := s.Peek(KindMessages, chatID)
	if !ok {
		return nil
	}
	msgs, _ := v.([]models.Message)
	return msgs
}

// MessagesFresh reports a chat's messages only while within TTL.
func (s *Store) MessagesFresh(chatID string) ([]models.Message, bool) {
	v, ok := s.Get(KindMessages, chatID)
	if !ok {
		return nil, false
	}
	msgs, _ := v.([]models.Message)
	return msgs, true
}

// MergeMessages folds incoming messages into a chat's list: entries matching
// an existing message by server id or client id are reconciled in place,
// everything else is appended, then the list is stably sorted by timestamp
// with ties broken by id. Returns the merged list.
func (s *Store) MergeMessages(chatID string, incoming []models.Message) []models.Message {
	s.mu.Lock()
	var existing []models.Message
	if e, ok := s.entries[cacheKey(KindMessages, chatID)]; ok {
		existing, _ = e.value.([]models.Message)
	}
	merged := mergeMessages(existing, incoming)
	s.entries[cacheKey(KindMessages, chatID)] = entry{value: merged, fetchedAt: s.now()}
	s.mu.Unlock()
	s.notify()
	return merged
}

// UpdateMessage applies fn to one message in a chat's list. The callback
// returns false to abort without notifying. Returns whether the message was
// found and updated. Stored slices are never mutated once handed out: the
// update replaces the stored slice with a fresh copy, so snapshots held by
// readers stay stable.
func (s *Store) UpdateMessage(chatID, key string, fn func(*models.Message) bool) bool {
	s.mu.Lock()
	e, ok := s.entries[cacheKey(KindMessages, chatID)]
	if !ok {
		s.mu.Unlock()
		return false
	}
	msgs, _ := e.value.([]models.Message)
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	updated := false
	for i := range out {
		if out[i].ID == key || (out[i].ClientID != "" && out[i].ClientID == key) {
			updated = fn(&out[i])
			break
		}
	}
	if updated {
		e.value = out
		s.entries[cacheKey(KindMessages, chatID)] = e
	}
	s.mu.Unlock()
	if updated {
		s.notify()
	}
	return updated
}

// UpdateChat applies fn to one chat summary. Like UpdateMessage, the stored
// slice is replaced with a copy rather than written through.
func (s *Store) UpdateChat(chatID string, fn func(*models.Chat)) bool {
	s.mu.Lock()
	e, ok := s.entries[cacheKey(KindChats, allKey)]
	if !ok {
		s.mu.Unlock()
		return false
	}
	chats, _ := e.value.([]models.Chat)
	out := make([]models.Chat, len(chats))
	copy(out, chats)
	found := false
	for i := range out {
		if out[i].ID == chatID {
			fn(&out[i])
			found = true
			break
		}
	}
	if found {
		e.value = out
		s.entries[cacheKey(KindChats, allKey)] = e
	}
	s.mu.Unlock()
	if found {
		s.notify()
	}
	return found
}

func mergeMessages(existing, incoming []models.Message) []models.Message {
	out := make([]models.Message, len(existing))
	copy(out, existing)

	byID := make(map[string]int, len(out))
	byClientID := make(map[string]int, len(out))
	for i, m := range out {
		if m.ID != "" {
			byID[m.ID] = i
		}
		if m.ClientID != "" {
			byClientID[m.ClientID] = i
		}
	}

	for _, in := range incoming {
		// No server id and no client id means nothing to reconcile on; a
		// malformed entry reads as no data rather than a fresh row per merge.
		if in.Key() == "" {
			continue
		}
		pos := -1
		if in.ID != "" {
			if i, ok := byID[in.ID]; ok {
				pos = i
			}
		}
		if pos < 0 && in.ClientID != "" {
			if i, ok := byClientID[in.ClientID]; ok {
				pos = i
			}
		}
		if pos >= 0 {
			out[pos] = reconcile(out[pos], in)
			if out[pos].ID != "" {
				byID[out[pos].ID] = pos
			}
			if out[pos].ClientID != "" {
				byClientID[out[pos].ClientID] = pos
			}
			continue
		}
		out = append(out, in)
		pos = len(out) - 1
		if in.ID != "" {
			byID[in.ID] = pos
		}
		if in.ClientID != "" {
			byClientID[in.ClientID] = pos
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// reconcile folds an incoming copy of a message onto the one already held.
// The incoming copy is authoritative for ids and timestamps; the status only
// moves forward. Failure is never delivered through a merge, it is applied
// directly by the send pipeline.
func reconcile(old, in models.Message) models.Message {
	merged := in
	if merged.ID == "" {
		merged.ID = old.ID
	}
	if merged.ClientID == "" {
		merged.ClientID = old.ClientID
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = old.CreatedAt
	}
	if merged.SenderName == "" {
		merged.SenderName = old.SenderName
	}
	if merged.Body == "" {
		merged.Body = old.Body
	}
	merged.Own = old.Own || in.Own
	if old.Status.Rank() > merged.Status.Rank() {
		merged.Status = old.Status
	}
	return merged
}

// Package reconcile maintains the ordered chat-list projection served to
// UI clients as new-message events arrive.
package reconcile

import (
	"sync"

	"github.com/rafaelmv/wacrm/internal/store"
	"github.com/rafaelmv/wacrm/internal/wa"
)

// ChatList keeps chats ordered most-recent-first and tracks unread counts.
// It is a read-through projection: Load rebuilds it from store rows at any
// time, and Apply folds in live events. Ids are compared only in their
// canonical string form.
type ChatList struct {
	mu     sync.Mutex
	chats  []store.Chat
	index  map[string]int
	active string
}

// NewChatList creates an empty chat list.
func NewChatList() *ChatList {
	return &ChatList{index: make(map[string]int)}
}

// Load replaces the projection with rows from the store. Duplicate ids are
// collapsed, first occurrence wins (rows arrive ordered by recency).
func (l *ChatList) Load(chats []store.Chat) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.chats = l.chats[:0]
	l.index = make(map[string]int, len(chats))
	for _, c := range chats {
		c.ID = wa.CanonicalChatID(c.ID)
		if _, dup := l.index[c.ID]; dup {
			continue
		}
		l.index[c.ID] = len(l.chats)
		l.chats = append(l.chats, c)
	}
}

// SetActive marks a chat as the one currently open; its unread count resets
// and stays at zero while messages for it arrive. Empty id clears the
// selection.
func (l *ChatList) SetActive(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active = wa.CanonicalChatID(chatID)
	if i, ok := l.index[l.active]; ok {
		l.chats[i].UnreadCount = 0
	}
}

// Apply folds a new message into the projection. An existing chat moves to
// the head with refreshed timestamp/preview and an incremented unread count
// (unless it is the active chat, or the message is our own). An unknown
// chat id synthesizes a minimal entry at the head. It reports whether the
// message landed in the active chat with its unread increment suppressed,
// so the caller can reset the store's counter to match.
func (l *ChatList) Apply(msg *store.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := wa.CanonicalChatID(msg.ChatID)
	isActive := id == l.active && l.active != ""
	suppressed := isActive && !msg.FromMe

	if i, ok := l.index[id]; ok {
		c := l.chats[i]
		if msg.Timestamp >= c.LastMessageAt {
			c.LastMessageAt = msg.Timestamp
			c.LastMessagePreview = msg.Body
		}
		switch {
		case isActive:
			c.UnreadCount = 0
		case !msg.FromMe:
			c.UnreadCount++
		}
		l.chats = append(l.chats[:i], l.chats[i+1:]...)
		l.chats = append([]store.Chat{c}, l.chats...)
		l.reindex()
		return suppressed
	}

	unread := 0
	if !suppressed && !msg.FromMe {
		unread = 1
	}
	c := store.Chat{
		ID:                 id,
		LastMessageAt:      msg.Timestamp,
		LastMessagePreview: msg.Body,
		UnreadCount:        unread,
	}
	l.chats = append([]store.Chat{c}, l.chats...)
	l.reindex()
	return suppressed
}

// Snapshot returns a copy of the current projection, head first.
func (l *ChatList) Snapshot() []store.Chat {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]store.Chat, len(l.chats))
	copy(out, l.chats)
	return out
}

// Len returns the number of chats in the projection.
func (l *ChatList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chats)
}

func (l *ChatList) reindex() {
	for i := range l.chats {
		l.index[l.chats[i].ID] = i
	}
}

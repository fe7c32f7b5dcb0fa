// Package events delivers notifications such as "chat list updated" to
// subscribers registered for a specific user. There is no global dispatch:
// a subscriber only sees events addressed to the user it registered for.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types
const (
	TypeChatListUpdated   = "chat_list_updated"
	TypeTokenLimitChanged = "token_limit_changed"
)

// Event is one notification addressed to a user
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	ChatID     string    `json:"chatId,omitempty"`
	TokenLimit int       `json:"tokenLimit,omitempty"`
	At         time.Time `json:"at"`
}

// Handler receives events. Handlers run on the publisher's goroutine and must not block.
type Handler func(Event)

// Publisher sends events to subscribers
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is an in-process observer registry keyed by user id
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]Handler)}
}

// Subscribe registers h for events addressed to userID. The returned func removes it.
func (b *Bus) Subscribe(userID string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[uint64]Handler)
	}
	b.subs[userID][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[userID], id)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
		})
	}
}

// Publish delivers ev to the subscribers of ev.UserID
func (b *Bus) Publish(_ context.Context, ev Event) error {
	b.dispatch(ev)
	return nil
}

func (b *Bus) dispatch(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.UserID]))
	for _, h := range b.subs[ev.UserID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers returns the number of handlers registered for userID
func (b *Bus) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

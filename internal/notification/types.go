// Package notification keeps the user-facing feed of short status messages
// and forwards them to push services.
package notification

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type represents the category of a notification.
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeInfo    Type = "info"
)

// DefaultMaxNotifications bounds the in-memory feed.
const DefaultMaxNotifications = 100

// Notification is one message in the feed.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"` // emitting package, e.g. "orchestrator"
	Timestamp time.Time `json:"timestamp"`
}

// NewNotification creates a notification with a unique ID and timestamp.
func NewNotification(notifType Type, message string) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		Type:      notifType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithComponent sets the component field and returns the notification for chaining.
func (n *Notification) WithComponent(component string) *Notification {
	n.Component = component
	return n
}

// Clone returns a copy safe to hand to another goroutine.
func (n *Notification) Clone() *Notification {
	out := *n
	return &out
}

// InMemoryStore is a capped, newest-first list.
type InMemoryStore struct {
	mu      sync.RWMutex
	items   []*Notification // oldest first; appended in arrival order
	maxSize int
}

// NewInMemoryStore returns a store keeping at most maxSize notifications.
func NewInMemoryStore(maxSize int) *InMemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxNotifications
	}
	return &InMemoryStore{maxSize: maxSize}
}

// Save appends n, dropping the oldest entries beyond the cap.
func (s *InMemoryStore) Save(n *Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, n)
	if over := len(s.items) - s.maxSize; over > 0 {
		clear(s.items[:over])
		s.items = slices.Clone(s.items[over:])
	}
}

// List returns up to limit notifications, newest first. limit <= 0 means all.
func (s *InMemoryStore) List(limit int) []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Notification, 0, n)
	for i := len(s.items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.items[i].Clone())
	}
	return out
}

// Len returns the number of stored notifications.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear removes everything.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

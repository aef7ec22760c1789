package inventory

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Status is the per-record sync state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// DefaultStatusTTL is how long a success stays visible.
const DefaultStatusTTL = 10 * time.Minute

// Entry is a status with the message shown next to it.
type Entry struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// StatusStore tracks sync states by record id. Success entries expire back to
// idle after the TTL; syncing and error entries stay until replaced.
type StatusStore struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
}

// NewStatusStore returns a store whose success entries live for ttl.
func NewStatusStore(ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusStore{cache: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Get returns the entry for id. Unknown and expired ids read as idle.
func (s *StatusStore) Get(id string) Entry {
	if v, ok := s.cache.Get(id); ok {
		return v.(Entry)
	}
	return Entry{Status: StatusIdle}
}

// Begin moves id to syncing. It returns false when a sync is already running.
func (s *StatusStore) Begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Get(id).Status == StatusSyncing {
		return false
	}
	s.cache.Set(id, Entry{Status: StatusSyncing, UpdatedAt: time.Now()}, cache.NoExpiration)
	return true
}

// Succeed records a successful sync.
func (s *StatusStore) Succeed(id, message string) {
	s.cache.Set(id, Entry{Status: StatusSuccess, Message: message, UpdatedAt: time.Now()}, s.ttl)
}

// Fail records a failed sync. It never expires on its own.
func (s *StatusStore) Fail(id, message string) {
	s.cache.Set(id, Entry{Status: StatusError, Message: message, UpdatedAt: time.Now()}, cache.NoExpiration)
}

// Forget drops id.
func (s *StatusStore) Forget(id string) {
	s.cache.Delete(id)
}

// Reset drops every entry.
func (s *StatusStore) Reset() {
	s.cache.Flush()
}

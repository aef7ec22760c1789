// Package history keeps the bounded, most-recent-first list of analysis
// records. Every mutation is persisted before it becomes visible.
package history

import (
	"context"
	"slices"
	"sync"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
)

// DefaultCapacity bounds the history when no capacity is configured.
const DefaultCapacity = 50

// Persister stores the whole ordered list.
type Persister interface {
	Save(ctx context.Context, records []model.AnalysisRecord) error
	Load(ctx context.Context) ([]model.AnalysisRecord, error)
}

// Store is the single owner of the history list. All writers serialize on mu.
type Store struct {
	mu       sync.RWMutex
	records  []model.AnalysisRecord
	capacity int
	persist  Persister
	log      logger.Logger

	// onCommit, when set, observes the committed length.
	onCommit func(n int)
}

// Option configures a Store.
type Option func(*Store)

// WithCommitHook registers fn to run after each successful commit.
func WithCommitHook(fn func(n int)) Option {
	return func(s *Store) { s.onCommit = fn }
}

// New returns an empty store. Call Load to restore persisted records.
func New(persist Persister, capacity int, log logger.Logger, opts ...Option) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logger.Global().Module("history")
	}
	s := &Store{capacity: capacity, persist: persist, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores the persisted list. Missing or unreadable data yields an
// empty history and a warning, never an error.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.persist.Load(ctx)
	if err != nil {
		s.log.Warn("history could not be restored, starting empty", logger.Error(err))
		records = nil
	}
	if len(records) > s.capacity {
		records = records[:s.capacity]
	}
	s.records = records
	s.log.Info("history loaded", logger.Int("records", len(records)))
	if s.onCommit != nil {
		s.onCommit(len(s.records))
	}
}

// Append inserts r at the front and evicts beyond capacity. An existing record
// with the same id is replaced by the new one at the front.
func (s *Store) Append(ctx context.Context, r model.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]model.AnalysisRecord, 0, len(s.records)+1)
	next = append(next, r.Clone())
	for i := range s.records {
		if s.records[i].ID != r.ID {
			next = append(next, s.records[i])
		}
	}
	return s.commitLocked(ctx, "append", next)
}

// Replace overwrites the record with id in place. The stored record keeps id.
func (s *Store) Replace(ctx context.Context, id string, r model.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return notFound(id)
	}
	next := slices.Clone(s.records)
	next[idx] = r.Clone()
	next[idx].ID = id
	return s.commitLocked(ctx, "replace", next)
}

// Upsert replaces r in place when its id is present and prepends it otherwise.
// It reports whether the record was inserted.
func (s *Store) Upsert(ctx context.Context, r model.AnalysisRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexLocked(r.ID); idx >= 0 {
		next := slices.Clone(s.records)
		next[idx] = r.Clone()
		return false, s.commitLocked(ctx, "upsert", next)
	}

	next := make([]model.AnalysisRecord, 0, len(s.records)+1)
	next = append(next, r.Clone())
	next = append(next, s.records...)
	return true, s.commitLocked(ctx, "upsert", next)
}

// Update applies fn to a copy of the record with id and commits the result.
// An error from fn aborts without changes.
func (s *Store) Update(ctx context.Context, id string, fn func(*model.AnalysisRecord) error) (model.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.AnalysisRecord{}, notFound(id)
	}

	updated := s.records[idx].Clone()
	if err := fn(&updated); err != nil {
		return model.AnalysisRecord{}, err
	}
	updated.ID = id

	next := slices.Clone(s.records)
	next[idx] = updated
	if err := s.commitLocked(ctx, "update", next); err != nil {
		return model.AnalysisRecord{}, err
	}
	return updated.Clone(), nil
}

// Reconcile removes every record whose id is in removeIDs, then prepends
// records in the given order (prepend[0] ends up first) and re-applies the
// capacity bound, as one commit.
func (s *Store) Reconcile(ctx context.Context, removeIDs []string, prepend []model.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(removeIDs)+len(prepend))
	for _, id := range removeIDs {
		drop[id] = struct{}{}
	}
	for i := range prepend {
		drop[prepend[i].ID] = struct{}{}
	}

	next := make([]model.AnalysisRecord, 0, len(prepend)+len(s.records))
	for i := range prepend {
		next = append(next, prepend[i].Clone())
	}
	for i := range s.records {
		if _, ok := drop[s.records[i].ID]; !ok {
			next = append(next, s.records[i])
		}
	}

	if err := s.commitLocked(ctx, "reconcile", next); err != nil {
		return err
	}
	s.log.Debug("history reconciled",
		logger.Int("removed", len(removeIDs)),
		logger.Int("prepended", len(prepend)),
		logger.Int("records", len(s.records)))
	return nil
}

// RemoveAll empties the history.
func (s *Store) RemoveAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx, "remove_all", []model.AnalysisRecord{})
}

// List returns a copy of all records, most recent first.
func (s *Store) List() []model.AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AnalysisRecord, len(s.records))
	for i := range s.records {
		out[i] = s.records[i].Clone()
	}
	return out
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (model.AnalysisRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexLocked(id); idx >= 0 {
		return s.records[idx].Clone(), true
	}
	return model.AnalysisRecord{}, false
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Capacity returns the configured bound.
func (s *Store) Capacity() int { return s.capacity }

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.records, func(r model.AnalysisRecord) bool { return r.ID == id })
}

// commitLocked truncates next to capacity, persists it and only then swaps it
// in. On failure the in-memory list is left untouched.
func (s *Store) commitLocked(ctx context.Context, operation string, next []model.AnalysisRecord) error {
	if len(next) > s.capacity {
		evicted := len(next) - s.capacity
		next = next[:s.capacity:s.capacity]
		s.log.Debug("evicted oldest records", logger.Int("count", evicted))
	}

	if err := s.persist.Save(ctx, next); err != nil {
		return errors.New(err).
			Component("history").
			Category(errors.CategoryStorage).
			Context("operation", operation).
			Build()
	}

	s.records = next
	if s.onCommit != nil {
		s.onCommit(len(next))
	}
	return nil
}

func notFound(id string) error {
	return errors.Newf("record %s not found", id).
		Component("history").
		Category(errors.CategoryNotFound).
		Context("record_id", id).
		Build()
}

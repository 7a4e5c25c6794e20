// Package memory provides an in-memory cache.Store for tests and ephemeral
// use. Data is not persisted across process restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/mailsweep/cache"
)

// Compile-time check
var _ cache.Store = (*Store)(nil)

// Store implements cache.Store with in-memory storage.
// Thread-safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	records   map[string]cache.Record
	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{records: make(map[string]cache.Record)}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return cache.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return cache.ErrNotConnected
	}
	return nil
}

// Upsert writes the records, last-write-wins per id.
func (s *Store) Upsert(_ context.Context, records []cache.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

// All returns an iterator over a snapshot of the store, ordered by id.
func (s *Store) All(_ context.Context) (cache.Iterator, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snapshot := make([]cache.Record, 0, len(s.records))
	for _, r := range s.records {
		snapshot = append(snapshot, r)
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

	fetch := func(_ context.Context, afterID string, limit int) ([]cache.Record, error) {
		start := sort.Search(len(snapshot), func(i int) bool { return snapshot[i].ID > afterID })
		end := start + limit
		if end > len(snapshot) {
			end = len(snapshot)
		}
		return snapshot[start:end], nil
	}
	return cache.NewBatchIterator(fetch, 0), nil
}

// Remove deletes the given ids, ignoring ids that are not present.
func (s *Store) Remove(_ context.Context, ids []string) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Clear empties the store.
func (s *Store) Clear(_ context.Context) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]cache.Record)
	return nil
}

// Count returns the number of cached records.
func (s *Store) Count(_ context.Context) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

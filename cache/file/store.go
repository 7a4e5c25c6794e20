// Package file provides a durable cache.Store backed by a single JSON file.
//
// The whole cache is held in memory and rewritten to disk on every mutating
// call via a temp-file-plus-rename, so a crash mid-write leaves the previous
// committed state intact. Suitable for the tens of thousands of header
// records this engine caches; use the sqlite or postgres backends beyond
// that.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rbaliyan/mailsweep/cache"
)

// Compile-time check
var _ cache.Store = (*Store)(nil)

// Store implements cache.Store using a JSON file keyed by message id.
type Store struct {
	path string
	opts *options

	mu        sync.RWMutex
	records   map[string]cache.Record
	connected bool
}

// New creates a file store writing to the given path.
// Call Connect() to load any existing contents.
func New(path string, opts ...Option) *Store {
	return &Store{
		path: path,
		opts: newOptions(opts...),
	}
}

// Connect loads the cache file if it exists and prepares the directory.
func (s *Store) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return cache.ErrAlreadyConnected
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create cache directory: %v", cache.ErrStorage, err)
		}
	}

	records := make(map[string]cache.Record)
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fresh cache
	case err != nil:
		return fmt.Errorf("%w: read cache file: %v", cache.ErrStorage, err)
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("%w: decode cache file %s: %v", cache.ErrStorage, s.path, err)
		}
	}

	s.records = records
	s.connected = true
	s.opts.logger.Info("cache file loaded", "path", s.path, "records", len(records))
	return nil
}

// Close marks the store as disconnected. Contents are already on disk.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// persist rewrites the cache file. Caller must hold the write lock.
func (s *Store) persist() error {
	data, err := json.Marshal(s.records)
	if err != nil {
		return fmt.Errorf("%w: encode cache: %v", cache.ErrStorage, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: write cache file: %v", cache.ErrStorage, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: commit cache file: %v", cache.ErrStorage, err)
	}
	return nil
}

// Upsert writes the records and persists the file before returning.
func (s *Store) Upsert(_ context.Context, records []cache.Record) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return cache.ErrNotConnected
	}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s.persist()
}

// All returns an iterator over a snapshot of the store, ordered by id.
func (s *Store) All(_ context.Context) (cache.Iterator, error) {
	s.mu.RLock()
	if !s.connected {
		s.mu.RUnlock()
		return nil, cache.ErrNotConnected
	}
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

// Remove deletes the given ids and persists the file before returning.
func (s *Store) Remove(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, cache.ErrNotConnected
	}

	removed := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.persist(); err != nil {
		return 0, err
	}
	return removed, nil
}

// Clear empties the store and persists the empty file.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return cache.ErrNotConnected
	}
	s.records = make(map[string]cache.Record)
	return s.persist()
}

// Count returns the number of cached records.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return 0, cache.ErrNotConnected
	}
	return len(s.records), nil
}

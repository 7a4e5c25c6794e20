// Package sqlite provides a durable cache.Store backed by a local SQLite
// database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rbaliyan/mailsweep/cache"
)

// Compile-time check
var _ cache.Store = (*Store)(nil)

// Store implements cache.Store using SQLite.
type Store struct {
	path      string
	opts      *options
	db        *sql.DB
	connected int32
}

// New creates a SQLite store writing to the database at the given path.
// Call Connect() to open the database and run migrations.
func New(path string, opts ...Option) *Store {
	return &Store{
		path: path,
		opts: newOptions(opts...),
	}
}

// Connect opens (or creates) the database and ensures the schema.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return cache.ErrAlreadyConnected
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			atomic.StoreInt32(&s.connected, 0)
			return fmt.Errorf("%w: create db directory: %v", cache.ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: open sqlite: %v", cache.ErrStorage, err)
	}

	// WAL keeps stats reads cheap while the sync loop writes.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: set WAL mode: %v", cache.ErrStorage, err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		atomic.StoreInt32(&s.connected, 0)
		return err
	}

	s.db = db
	s.opts.logger.Info("connected to SQLite cache", "path", s.path)
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	sender_email TEXT NOT NULL DEFAULT '',
	sender_name  TEXT NOT NULL DEFAULT '',
	received_at  INTEGER NOT NULL DEFAULT 0,
	category     TEXT NOT NULL DEFAULT 'unknown',
	thread_id    TEXT NOT NULL DEFAULT '',
	fetched_at   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_email);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate schema: %v", cache.ErrStorage, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 1, 0) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close sqlite: %v", cache.ErrStorage, err)
	}
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return cache.ErrNotConnected
	}
	return nil
}

// Upsert writes the records in a single transaction.
func (s *Store) Upsert(ctx context.Context, records []cache.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", cache.ErrStorage, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, sender_email, sender_name, received_at, category, thread_id, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sender_email = excluded.sender_email,
			sender_name  = excluded.sender_name,
			received_at  = excluded.received_at,
			category     = excluded.category,
			thread_id    = excluded.thread_id,
			fetched_at   = excluded.fetched_at
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare upsert: %v", cache.ErrStorage, err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx, r.ID, r.SenderEmail, r.SenderName,
			r.ReceivedAt.UTC().UnixMilli(), string(r.Category), r.ThreadID,
			r.FetchedAt.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("%w: upsert %s: %v", cache.ErrStorage, r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit upsert: %v", cache.ErrStorage, err)
	}
	return nil
}

// All returns an iterator paging through the table by id.
func (s *Store) All(_ context.Context) (cache.Iterator, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, afterID string, limit int) ([]cache.Record, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, sender_email, sender_name, received_at, category, thread_id, fetched_at
			FROM messages WHERE id > ? ORDER BY id LIMIT ?
		`, afterID, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: query messages: %v", cache.ErrStorage, err)
		}
		defer rows.Close()

		var batch []cache.Record
		for rows.Next() {
			var r cache.Record
			var category string
			var receivedAt, fetchedAt int64
			if err := rows.Scan(&r.ID, &r.SenderEmail, &r.SenderName,
				&receivedAt, &category, &r.ThreadID, &fetchedAt); err != nil {
				return nil, fmt.Errorf("%w: scan message: %v", cache.ErrStorage, err)
			}
			r.ReceivedAt = time.UnixMilli(receivedAt).UTC()
			r.FetchedAt = time.UnixMilli(fetchedAt).UTC()
			r.Category = cache.Category(category)
			batch = append(batch, r)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: iterate messages: %v", cache.ErrStorage, err)
		}
		return batch, nil
	}
	return cache.NewBatchIterator(fetch, s.opts.batchSize), nil
}

// Remove deletes the given ids in one transaction.
func (s *Store) Remove(ctx context.Context, ids []string) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete messages: %v", cache.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", cache.ErrStorage, err)
	}
	return int(n), nil
}

// Clear empties the table.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("%w: clear messages: %v", cache.ErrStorage, err)
	}
	return nil
}

// Count returns the number of cached records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count messages: %v", cache.ErrStorage, err)
	}
	return n, nil
}

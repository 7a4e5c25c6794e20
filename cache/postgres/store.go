// Package postgres provides a PostgreSQL implementation of cache.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rbaliyan/mailsweep/cache"
)

// Compile-time check
var _ cache.Store = (*Store)(nil)

// Store implements cache.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
}

// New creates a PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	return &Store{
		db:   db,
		opts: newOptions(opts...),
	}
}

// NewFromDB creates a PostgreSQL store from a standard sql.DB connection.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect pings the database and ensures the schema.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return cache.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: postgres: db is required", cache.ErrStorage)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: postgres ping: %v", cache.ErrStorage, err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return err
	}

	s.opts.logger.Info("connected to PostgreSQL cache", "table", s.opts.table)
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id           TEXT PRIMARY KEY,
			sender_email TEXT NOT NULL DEFAULT '',
			sender_name  TEXT NOT NULL DEFAULT '',
			received_at  TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			category     TEXT NOT NULL DEFAULT 'unknown',
			thread_id    TEXT NOT NULL DEFAULT '',
			fetched_at   TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
		)
	`, s.opts.table)
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("%w: create table: %v", cache.ErrStorage, err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender ON %s(sender_email)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_received ON %s(received_at)`, s.opts.table, s.opts.table),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.opts.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
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

// Upsert writes the records in one transaction with ON CONFLICT updates.
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", cache.ErrStorage, err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, sender_email, sender_name, received_at, category, thread_id, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			sender_email = EXCLUDED.sender_email,
			sender_name  = EXCLUDED.sender_name,
			received_at  = EXCLUDED.received_at,
			category     = EXCLUDED.category,
			thread_id    = EXCLUDED.thread_id,
			fetched_at   = EXCLUDED.fetched_at
	`, s.opts.table)

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: prepare upsert: %v", cache.ErrStorage, err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx, r.ID, r.SenderEmail, r.SenderName,
			r.ReceivedAt.UTC(), string(r.Category), r.ThreadID, r.FetchedAt.UTC())
		if err != nil {
			return fmt.Errorf("%w: upsert %s: %v", cache.ErrStorage, r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit upsert: %v", cache.ErrStorage, err)
	}
	return nil
}

// All returns an iterator paging through the table with keyset queries.
func (s *Store) All(_ context.Context) (cache.Iterator, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, sender_email, sender_name, received_at, category, thread_id, fetched_at
		FROM %s WHERE id > $1 ORDER BY id LIMIT $2
	`, s.opts.table)

	fetch := func(ctx context.Context, afterID string, limit int) ([]cache.Record, error) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()

		var rows []row
		if err := s.db.SelectContext(ctx, &rows, query, afterID, limit); err != nil {
			return nil, fmt.Errorf("%w: query messages: %v", cache.ErrStorage, err)
		}
		batch := make([]cache.Record, len(rows))
		for i, r := range rows {
			batch[i] = r.record()
		}
		return batch, nil
	}
	return cache.NewBatchIterator(fetch, s.opts.batchSize), nil
}

// Remove deletes the given ids.
func (s *Store) Remove(ctx context.Context, ids []string) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.opts.table)
	res, err := s.db.ExecContext(ctx, query, pq.Array(ids))
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, s.opts.table)); err != nil {
		return fmt.Errorf("%w: clear messages: %v", cache.ErrStorage, err)
	}
	return nil
}

// Count returns the number of cached records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.opts.table)
	if err := s.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("%w: count messages: %v", cache.ErrStorage, err)
	}
	return n, nil
}

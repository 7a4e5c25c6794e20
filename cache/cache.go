// Package cache defines the local message-metadata cache used by the sync
// engine. Implementations are in cache/memory, cache/file, cache/sqlite,
// cache/postgres and cache/mongo subpackages.
//
// The cache holds exactly one Record per remote message id. Writes are
// idempotent (last-write-wins per id) and each mutating call is durable
// before it returns, so a crash after a successful call never loses
// committed data. Atomicity across a whole batch is NOT guaranteed; callers
// retry on failure and rely on idempotence instead.
package cache

import "context"

// Store is the persistence interface for cached message metadata.
//
// All operations must be safe for concurrent use. Readers iterating via All
// may run concurrently with writers; an iterator observes the store as of
// the All call and is never handed a torn batch.
type Store interface {
	// Connect prepares the backing storage (opens files, ensures schema).
	Connect(ctx context.Context) error

	// Close releases resources. The store must not be used afterwards.
	Close(ctx context.Context) error

	// Upsert writes the records, replacing any existing record with the
	// same ID. Upserting identical records repeatedly is a no-op.
	Upsert(ctx context.Context, records []Record) error

	// All returns an iterator over every cached record. The sequence
	// reflects the store at call time and is ordered by ID so repeated
	// calls on an unchanged store yield identical sequences.
	All(ctx context.Context) (Iterator, error)

	// Remove deletes the records with the given ids and reports how many
	// existed. Missing ids are no-ops, not errors.
	Remove(ctx context.Context, ids []string) (int, error)

	// Clear empties the store.
	Clear(ctx context.Context) error

	// Count returns the number of cached records.
	Count(ctx context.Context) (int, error)
}

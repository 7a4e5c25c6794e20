package cache

import "context"

// Iterator provides streaming access to cached records.
// Use Next() to advance, Record() to read the current record.
//
// Iterators hold no resources requiring cleanup - simply stop calling
// Next() when done. An Iterator is NOT safe for concurrent use; create one
// per goroutine.
type Iterator interface {
	// Next advances to the next record.
	// Returns (true, nil) when a record is available, (false, nil) when
	// iteration is done, and (false, error) on a storage failure.
	Next(ctx context.Context) (bool, error)

	// Record returns the current record. It must be called after a Next()
	// that returned (true, nil); otherwise it returns
	// ErrIteratorOutOfBounds.
	Record() (Record, error)
}

// BatchFetchFunc fetches the next batch of records, keyed by the last id of
// the previous batch (empty for the first call). Returning an empty batch
// ends the iteration. Batches must be ordered by id ascending.
type BatchFetchFunc func(ctx context.Context, afterID string, limit int) ([]Record, error)

// batchIterator implements Iterator over a paged fetch function. All the
// store backends use it: in-memory backends page over a snapshot slice,
// database backends page with keyset queries on the id column.
type batchIterator struct {
	fetch     BatchFetchFunc
	batchSize int

	batch   []Record
	pos     int
	lastID  string
	done    bool
	started bool
}

// DefaultIteratorBatchSize is the number of records fetched per batch when
// the backend does not override it.
const DefaultIteratorBatchSize = 500

// NewBatchIterator returns an Iterator that pulls records through fetch in
// batches of batchSize (DefaultIteratorBatchSize if <= 0).
func NewBatchIterator(fetch BatchFetchFunc, batchSize int) Iterator {
	if batchSize <= 0 {
		batchSize = DefaultIteratorBatchSize
	}
	return &batchIterator{fetch: fetch, batchSize: batchSize}
}

func (it *batchIterator) Next(ctx context.Context) (bool, error) {
	if it.done {
		return false, nil
	}
	it.pos++
	if it.started && it.pos < len(it.batch) {
		return true, nil
	}

	batch, err := it.fetch(ctx, it.lastID, it.batchSize)
	if err != nil {
		it.done = true
		return false, err
	}
	if len(batch) == 0 {
		it.done = true
		return false, nil
	}

	it.batch = batch
	it.pos = 0
	it.lastID = batch[len(batch)-1].ID
	it.started = true
	return true, nil
}

func (it *batchIterator) Record() (Record, error) {
	if !it.started || it.done || it.pos >= len(it.batch) {
		return Record{}, ErrIteratorOutOfBounds
	}
	return it.batch[it.pos], nil
}

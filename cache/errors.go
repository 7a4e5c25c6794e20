package cache

import "errors"

// Sentinel errors for the cache package.
// Use errors.Is() to check for these errors.
var (
	// ErrStorage is wrapped by every persistence I/O failure so callers
	// can distinguish local storage faults from remote transport faults.
	ErrStorage = errors.New("cache: storage failure")

	// ErrInvalidID is returned when a record carries an empty id.
	ErrInvalidID = errors.New("cache: invalid id")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("cache: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("cache: already connected")

	// ErrIteratorOutOfBounds is returned by Iterator.Record when Next has
	// not been called or iteration has finished.
	ErrIteratorOutOfBounds = errors.New("cache: iterator out of bounds - call Next() first")
)

// IsStorage reports whether err is a persistence failure.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsNotConnected reports whether err indicates a store used before Connect.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

package sqlite

import "log/slog"

// DefaultBatchSize is the iterator page size.
const DefaultBatchSize = 500

// options holds SQLite store configuration.
type options struct {
	batchSize int
	logger    *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a SQLite store.
type Option func(*options)

// WithBatchSize sets the iterator page size.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

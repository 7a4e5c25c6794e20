// Package retry runs an operation repeatedly under an exponential backoff
// schedule until it succeeds, the error is classified final, the attempt
// budget runs out, or the context ends. The engine routes every remote call
// through here; which failures count as transient is decided by the caller's
// Config.IsRetryable predicate, so the package itself stays free of any
// transport-specific error knowledge.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config is a retry policy. The zero value is usable: backoff durations and
// the multiplier fall back to the DefaultConfig values when left zero, while
// MaxRetries and Jitter zero mean exactly that (run once, no jitter).
type Config struct {
	// MaxRetries bounds the re-attempts after the first call, so an
	// operation runs at most MaxRetries+1 times. Zero means run once.
	MaxRetries int

	// InitialBackoff is the wait before the first re-attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the grown backoff.
	MaxBackoff time.Duration

	// Multiplier grows the backoff between re-attempts.
	Multiplier float64

	// Jitter spreads each wait uniformly by +/- Jitter*backoff, clamped
	// to [0, 1]. Keeps concurrent callers from re-attempting in lockstep.
	Jitter float64

	// IsRetryable classifies an error as transient (true) or final
	// (false). Nil falls back to DefaultIsRetryable.
	IsRetryable func(error) bool
}

// DefaultConfig returns the policy used when Config fields are left zero:
// three re-attempts, 500ms initial backoff doubling up to 30s, 10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		IsRetryable:    DefaultIsRetryable,
	}
}

// Sentinels carried in RetryError.Err to say why the loop gave up.
var (
	// ErrNotRetryable marks a failure the predicate classified as final.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries marks an exhausted attempt budget.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled marks a context that ended mid-loop.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// Do runs fn under cfg until it returns nil or the policy gives up.
// A non-nil return is either the bare context error (context already dead
// before the first call) or a *RetryError pairing the last failure with the
// reason the loop stopped.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			if lastErr == nil {
				return ctx.Err()
			}
			return &RetryError{Cause: lastErr, Attempts: attempt, Err: ErrContextCanceled}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !cfg.IsRetryable(lastErr) {
			return &RetryError{Cause: lastErr, Attempts: attempt + 1, Err: ErrNotRetryable}
		}
		if attempt == cfg.MaxRetries {
			return &RetryError{Cause: lastErr, Attempts: attempt + 1, Err: ErrMaxRetries}
		}

		select {
		case <-ctx.Done():
			return &RetryError{Cause: lastErr, Attempts: attempt + 1, Err: ErrContextCanceled}
		case <-time.After(cfg.backoff(attempt)):
		}
	}
}

// DoWithResult is Do for operations that produce a value. On failure the
// zero value is returned alongside the error.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// RetryError reports a retry loop that gave up.
//
// errors.Is matches both the stop-reason sentinel and the underlying cause,
// so callers can test for ErrMaxRetries and for their own transport
// sentinels on the same error.
type RetryError struct {
	// Cause is the operation's last failure.
	Cause error

	// Attempts counts how many times the operation ran.
	Attempts int

	// Err is ErrMaxRetries, ErrNotRetryable, or ErrContextCanceled.
	Err error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", e.Err, e.Attempts, e.Cause)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

// backoff returns the jittered wait before re-attempt number attempt+1.
func (cfg Config) backoff(attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	d = min(d, float64(cfg.MaxBackoff))
	if cfg.Jitter > 0 {
		spread := d * cfg.Jitter
		d += spread * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// withDefaults replaces zero or out-of-range fields with DefaultConfig
// values.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return cfg
}

// DefaultIsRetryable treats unknown errors as transient and context
// cancellation as final. Errors exposing a Retryable() bool method classify
// themselves. Callers with a real error taxonomy should install their own
// predicate via Config.IsRetryable.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRetryable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	return true
}

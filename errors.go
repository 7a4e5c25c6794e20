package mailsweep

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rbaliyan/mailsweep/cache"
	"github.com/rbaliyan/mailsweep/gmail"
)

// Sentinel errors for the mailsweep package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding cache- and gmail-level errors where
// applicable, so errors.Is(err, mailsweep.ErrNotConnected) will match both
// engine-level and cache-level "not connected" errors.
var (
	// ErrCacheRequired is returned when no cache store is configured.
	ErrCacheRequired = errors.New("mailsweep: cache store is required")

	// ErrClientRequired is returned when no mail client is configured.
	ErrClientRequired = errors.New("mailsweep: mail client is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps cache.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("mailsweep: %w", cache.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps cache.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("mailsweep: %w", cache.ErrAlreadyConnected)

	// ErrSyncRunning is returned when StartSync is called while a sync run
	// is already in progress. Only one run per service at a time.
	ErrSyncRunning = errors.New("mailsweep: sync already running")

	// ErrAuth is returned when the remote service rejects our credentials.
	// Wraps gmail.ErrAuth for consistent error checking.
	ErrAuth = fmt.Errorf("mailsweep: %w", gmail.ErrAuth)

	// ErrRateLimited is returned when the remote service throttled us and
	// retries were exhausted. Wraps gmail.ErrRateLimited.
	ErrRateLimited = fmt.Errorf("mailsweep: %w", gmail.ErrRateLimited)

	// ErrEmptyIDs is returned when a bulk operation is invoked with no ids.
	ErrEmptyIDs = errors.New("mailsweep: no message ids provided")

	// ErrPartialTrash is returned when some ids in a bulk trash failed.
	ErrPartialTrash = errors.New("mailsweep: partial trash")
)

// PartialTrashError provides details about which ids failed in a bulk trash.
// The successfully trashed ids have already been removed from the cache by
// the time this error is returned; only the failed ids remain.
type PartialTrashError struct {
	// Trashed contains message ids that were moved to trash.
	Trashed []string
	// Failed maps message ids to their trash errors.
	Failed map[string]error
}

func (e *PartialTrashError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mailsweep: partial trash - %d trashed, %d failed",
		len(e.Trashed), len(e.Failed))
	if len(e.Failed) > 0 {
		sb.WriteString(" (failed: ")
		count := 0
		const maxShown = 5
		for id := range e.Failed {
			if count > 0 {
				sb.WriteString(", ")
			}
			if count >= maxShown {
				fmt.Fprintf(&sb, "...and %d more", len(e.Failed)-maxShown)
				break
			}
			sb.WriteString(id)
			count++
		}
		sb.WriteString(")")
	}
	return sb.String()
}

func (e *PartialTrashError) Unwrap() error {
	return ErrPartialTrash
}

// RetryableIDs returns the ids whose trash attempt hit a transient failure
// and can be retried with another Delete call.
func (e *PartialTrashError) RetryableIDs() []string {
	retryable := make([]string, 0, len(e.Failed))
	for id, err := range e.Failed {
		if gmail.IsRetryable(err) {
			retryable = append(retryable, id)
		}
	}
	return retryable
}

// AllFailed returns true if no ids were trashed.
func (e *PartialTrashError) AllFailed() bool {
	return len(e.Trashed) == 0
}

// IsPartialTrash checks if the error is a partial trash error and returns details.
func IsPartialTrash(err error) (*PartialTrashError, bool) {
	var pte *PartialTrashError
	if errors.As(err, &pte) {
		return pte, true
	}
	return nil, false
}

// EventPublishError is returned when event publishing fails but the operation
// succeeded. The sync finished or the messages were trashed, but the event
// notification failed.
type EventPublishError struct {
	Event string // The event name (e.g., "SyncFinished", "MessagesTrashed")
	Err   error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("mailsweep: event %s publish failed: %v", e.Event, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and
// returns details. Useful when eventErrorsFatal=true but you still want to
// know the underlying operation succeeded.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

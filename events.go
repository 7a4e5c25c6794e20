package mailsweep

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for mailsweep events.
const (
	EventNameSyncStarted     = "mailsweep.sync.started"
	EventNameSyncFinished    = "mailsweep.sync.finished"
	EventNameMessagesTrashed = "mailsweep.messages.trashed"
	EventNameCacheCleared    = "mailsweep.cache.cleared"
)

// SyncStartedEvent is published when a sync run begins.
type SyncStartedEvent struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// SyncFinishedEvent is published when a sync run ends, whatever the outcome.
// Status is the terminal status ("complete" or "error").
type SyncFinishedEvent struct {
	RunID        string    `json:"run_id"`
	Status       string    `json:"status"`
	ScannedCount int       `json:"scanned_count"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// MessagesTrashedEvent is published after a bulk trash operation, including
// partial ones. Only the ids that were actually trashed are listed.
type MessagesTrashedEvent struct {
	MessageIDs  []string  `json:"message_ids"`
	FailedCount int       `json:"failed_count"`
	TrashedAt   time.Time `json:"trashed_at"`
}

// CacheClearedEvent is published when the local cache is cleared.
type CacheClearedEvent struct {
	ClearedAt time.Time `json:"cleared_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().SyncFinished.Subscribe(ctx, handler)
//	svc.Events().MessagesTrashed.Subscribe(ctx, handler)
type ServiceEvents struct {
	// SyncStarted is published when a sync run begins.
	SyncStarted event.Event[SyncStartedEvent]

	// SyncFinished is published when a sync run ends.
	SyncFinished event.Event[SyncFinishedEvent]

	// MessagesTrashed is published after a bulk trash operation.
	MessagesTrashed event.Event[MessagesTrashedEvent]

	// CacheCleared is published when the local cache is cleared.
	CacheCleared event.Event[CacheClearedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		SyncStarted:     event.New[SyncStartedEvent](namePrefix + "." + EventNameSyncStarted),
		SyncFinished:    event.New[SyncFinishedEvent](namePrefix + "." + EventNameSyncFinished),
		MessagesTrashed: event.New[MessagesTrashedEvent](namePrefix + "." + EventNameMessagesTrashed),
		CacheCleared:    event.New[CacheClearedEvent](namePrefix + "." + EventNameCacheCleared),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.SyncStarted); err != nil {
		return fmt.Errorf("register SyncStarted: %w", err)
	}
	if err := event.Register(ctx, bus, events.SyncFinished); err != nil {
		return fmt.Errorf("register SyncFinished: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessagesTrashed); err != nil {
		return fmt.Errorf("register MessagesTrashed: %w", err)
	}
	if err := event.Register(ctx, bus, events.CacheCleared); err != nil {
		return fmt.Errorf("register CacheCleared: %w", err)
	}
	return nil
}

package mailsweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/mailsweep/cache"
	"github.com/rbaliyan/mailsweep/gmail"
	"github.com/rbaliyan/mailsweep/retry"
)

// SyncStatus is the lifecycle state of the sync controller.
type SyncStatus string

const (
	// SyncIdle means no sync has run since Connect or ClearCache.
	SyncIdle SyncStatus = "idle"
	// SyncRunning means a sync run is in progress.
	SyncRunning SyncStatus = "running"
	// SyncComplete means the last run finished cleanly, including runs
	// stopped via StopSync.
	SyncComplete SyncStatus = "complete"
	// SyncError means the last run aborted with an error.
	SyncError SyncStatus = "error"
)

// SyncState is a point-in-time snapshot of the sync controller.
type SyncState struct {
	// Status is the controller lifecycle state.
	Status SyncStatus `json:"status"`
	// RunID identifies the current or most recent run.
	RunID string `json:"run_id,omitempty"`
	// ScannedCount is the number of messages considered so far, including
	// ones skipped because the cache already held them fresh.
	ScannedCount int `json:"scanned_count"`
	// SkippedCount is the number of messages whose metadata fetch failed
	// after retries. They stay uncached and the next run retries them.
	SkippedCount int `json:"skipped_count"`
	// TotalToScan is the progress denominator: the account's message
	// total capped at the configured scan limit, raised if the listing
	// yields more ids than the profile reported. Zero until the account
	// profile has been fetched. Never less than ScannedCount.
	TotalToScan int `json:"total_to_scan"`
	// Cursor resumes the remote listing; diagnostic only.
	Cursor string `json:"cursor,omitempty"`
	// Message is a human-readable progress line.
	Message string `json:"message,omitempty"`
	// Error carries the failure description when Status is SyncError.
	Error string `json:"error,omitempty"`
	// StartedAt and FinishedAt bound the current or most recent run.
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// IsRunning reports whether a sync run is in progress.
func (st SyncState) IsRunning() bool {
	return st.Status == SyncRunning
}

// StartSync begins a background sync run and returns its run id.
// The run detaches from the calling context: cancel it with StopSync or
// Close, not by cancelling ctx.
func (s *service) StartSync(ctx context.Context) (string, error) {
	if err := s.checkAccess(); err != nil {
		return "", err
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if s.syncState.Status == SyncRunning {
		return "", ErrSyncRunning
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.syncCancel = cancel
	s.syncDone = done
	s.syncState = SyncState{
		Status:    SyncRunning,
		RunID:     runID,
		Message:   "starting",
		StartedAt: time.Now().UTC(),
	}

	go s.runSync(runCtx, runID, done)

	s.logger.Info("sync started", "run_id", runID)
	return runID, nil
}

// StopSync requests cooperative cancellation of the running sync and waits
// for it to settle. Stopping an idle service is a no-op.
func (s *service) StopSync(ctx context.Context) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	return s.stopSyncAndWait(ctx)
}

// stopSyncAndWait cancels a running sync and blocks until the run goroutine
// has published its terminal state, or ctx expires.
func (s *service) stopSyncAndWait(ctx context.Context) error {
	s.syncMu.Lock()
	cancel, done := s.syncCancel, s.syncDone
	running := s.syncState.Status == SyncRunning
	s.syncMu.Unlock()

	if !running || cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SyncStatus returns a snapshot of the current sync state.
func (s *service) SyncStatus() SyncState {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.syncState
}

// setSyncMessage updates the progress line without touching counters.
func (s *service) setSyncMessage(msg string) {
	s.syncMu.Lock()
	s.syncState.Message = msg
	s.syncMu.Unlock()
}

// runSync is the body of one sync run. It owns the terminal state
// transition: whatever happens, the run ends as SyncComplete or SyncError
// and SyncFinished is published.
func (s *service) runSync(ctx context.Context, runID string, done chan struct{}) {
	defer close(done)

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "mailsweep.sync",
		attribute.String("run_id", runID),
	)
	var runErr error
	var scanned int
	defer func() {
		endSpan(runErr)
		s.otel.recordSync(ctx, time.Since(start), scanned, runErr)
	}()

	// Lifecycle events publish on a detached context: on the stop path the
	// run context is already cancelled by the time SyncFinished goes out.
	pubCtx := context.WithoutCancel(ctx)

	if err := s.events.SyncStarted.Publish(pubCtx, SyncStartedEvent{
		RunID:     runID,
		StartedAt: start.UTC(),
	}); err != nil {
		s.opts.safeEventPublishFailure("SyncStarted", err)
	}

	scanned, runErr = s.syncLoop(ctx, runID)

	s.syncMu.Lock()
	s.syncState.ScannedCount = scanned
	s.syncState.FinishedAt = time.Now().UTC()
	switch {
	case runErr == nil:
		s.syncState.Status = SyncComplete
		if s.syncState.Message == "" {
			s.syncState.Message = "sync complete"
		}
	case errors.Is(runErr, context.Canceled):
		// A stop request is a clean outcome: the cache keeps everything
		// scanned so far and the next run resumes against it.
		s.syncState.Status = SyncComplete
		s.syncState.Message = "sync stopped"
		runErr = nil
	default:
		s.syncState.Status = SyncError
		s.syncState.Message = "sync failed"
		s.syncState.Error = runErr.Error()
	}
	finished := s.syncState
	s.syncMu.Unlock()

	if err := s.events.SyncFinished.Publish(pubCtx, SyncFinishedEvent{
		RunID:        runID,
		Status:       string(finished.Status),
		ScannedCount: finished.ScannedCount,
		Error:        finished.Error,
		FinishedAt:   finished.FinishedAt,
	}); err != nil {
		s.opts.safeEventPublishFailure("SyncFinished", err)
	}

	if runErr != nil {
		s.logger.Error("sync failed", "run_id", runID, "scanned", scanned, "error", runErr)
	} else {
		s.logger.Info("sync finished", "run_id", runID,
			"status", finished.Status, "scanned", scanned, "duration", time.Since(start))
	}
}

// syncLoop pages through the remote listing, fetching and storing metadata
// for every message not already cached fresh, until the listing is
// exhausted, the scan limit is hit, or the run is cancelled.
func (s *service) syncLoop(ctx context.Context, runID string) (int, error) {
	s.setSyncMessage("loading cache index")
	fresh, err := s.loadFreshIndex(ctx)
	if err != nil {
		return 0, err
	}

	s.setSyncMessage("fetching account profile")
	account, err := s.fetchAccountInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("account info: %w", err)
	}

	totalToScan := min(int(account.MessagesTotal), s.opts.maxScan)
	s.syncMu.Lock()
	s.syncState.TotalToScan = totalToScan
	s.syncMu.Unlock()

	var (
		scanned int
		skipped int
		cursor  string
	)
	for {
		if err := ctx.Err(); err != nil {
			return scanned, err
		}
		if scanned >= s.opts.maxScan {
			s.setSyncMessage("scan limit reached")
			return scanned, nil
		}

		pageSize := s.opts.pageSize
		if remaining := int64(s.opts.maxScan - scanned); remaining < pageSize {
			pageSize = remaining
		}

		page, err := retry.DoWithResult(ctx, s.opts.retry, func(ctx context.Context) (gmail.ListPage, error) {
			var p gmail.ListPage
			lerr := s.limiter.Do(ctx, func(ctx context.Context) error {
				var e error
				p, e = s.client.ListMessageIDs(ctx, cursor, pageSize)
				return e
			})
			return p, lerr
		})
		if err != nil {
			return scanned, fmt.Errorf("list messages: %w", err)
		}

		// Cached-and-fresh ids are skipped but still count as scanned.
		toFetch := make([]string, 0, len(page.IDs))
		for _, id := range page.IDs {
			if _, ok := fresh[id]; !ok {
				toFetch = append(toFetch, id)
			}
		}

		batchSkipped, err := s.fetchAndStore(ctx, toFetch)
		skipped += batchSkipped
		if err != nil {
			return scanned, err
		}

		scanned += len(page.IDs)
		cursor = page.NextCursor

		s.syncMu.Lock()
		// The listing can outgrow the profile snapshot mid-run; raise the
		// denominator so scanned never exceeds it.
		if scanned > totalToScan {
			totalToScan = scanned
		}
		s.syncState.ScannedCount = scanned
		s.syncState.SkippedCount = skipped
		s.syncState.TotalToScan = totalToScan
		s.syncState.Cursor = cursor
		s.syncState.Message = fmt.Sprintf("scanned %d of %d", scanned, totalToScan)
		s.syncMu.Unlock()

		s.logger.Debug("sync page complete",
			"run_id", runID, "scanned", scanned, "fetched", len(toFetch))

		if page.Done {
			return scanned, nil
		}
	}
}

// loadFreshIndex snapshots the ids already cached within the staleness
// window. Loading the index once up front keeps the per-page skip check a
// map lookup instead of a store query.
func (s *service) loadFreshIndex(ctx context.Context) (map[string]struct{}, error) {
	fresh := make(map[string]struct{})
	if s.opts.staleness <= 0 {
		return fresh, nil
	}
	cutoff := time.Now().UTC().Add(-s.opts.staleness)

	iter, err := s.cache.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	for {
		ok, err := iter.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("iterate cache: %w", err)
		}
		if !ok {
			break
		}
		rec, err := iter.Record()
		if err != nil {
			return nil, fmt.Errorf("read cache record: %w", err)
		}
		if rec.FetchedAt.After(cutoff) {
			fresh[rec.ID] = struct{}{}
		}
	}
	return fresh, nil
}

// fetchAndStore retrieves metadata for ids in limiter-gated batches and
// upserts each batch before fetching the next, so an interrupted run keeps
// everything fetched so far. A batch whose retries are exhausted is skipped
// and the scan continues; the skipped ids stay uncached for the next run.
// Auth failures, cancellation and storage failures abort the run. Returns
// the number of ids skipped.
func (s *service) fetchAndStore(ctx context.Context, ids []string) (int, error) {
	skipped := 0
	for start := 0; start < len(ids); start += s.opts.fetchBatchSize {
		end := min(start+s.opts.fetchBatchSize, len(ids))
		batch := ids[start:end]

		records, err := retry.DoWithResult(ctx, s.opts.retry, func(ctx context.Context) ([]cache.Record, error) {
			var recs []cache.Record
			lerr := s.limiter.Do(ctx, func(ctx context.Context) error {
				var e error
				recs, e = s.client.FetchHeaders(ctx, batch)
				return e
			})
			return recs, lerr
		})
		if err != nil {
			if errors.Is(err, gmail.ErrAuth) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) {
				return skipped, fmt.Errorf("fetch headers: %w", err)
			}
			skipped += len(batch)
			s.logger.Warn("skipping batch after exhausted retries",
				"count", len(batch), "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}

		if err := s.cache.Upsert(ctx, records); err != nil {
			return skipped, fmt.Errorf("store records: %w", err)
		}
	}
	return skipped, nil
}

package mailsweep

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/rbaliyan/mailsweep/retry"
)

// DeleteResult reports the outcome of a bulk trash operation.
type DeleteResult struct {
	// Trashed contains the ids moved to trash, in request order.
	Trashed []string
	// Failed maps ids that could not be trashed to their errors.
	Failed map[string]error
}

// chunkOutcome is the per-chunk result slot. Chunks run concurrently but
// land in their own slot, so assembly stays deterministic.
type chunkOutcome struct {
	trashed []string
	failed  map[string]error
}

// Delete moves the given message ids to trash in rate-limited chunks and
// evicts the successfully trashed ids from the cache. Duplicate ids are
// collapsed. Chunks proceed independently: one failed chunk does not stop
// the others, and the cache eviction for a chunk happens as soon as that
// chunk lands.
//
// When every id succeeds the returned error is nil. When some or all ids
// fail, the result still reports the successes and the error is a
// *PartialTrashError carrying the per-id failures.
func (s *service) Delete(ctx context.Context, ids []string) (*DeleteResult, error) {
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return nil, ErrEmptyIDs
	}

	ctx, endSpan := s.otel.startSpan(ctx, "mailsweep.delete",
		attribute.Int("id_count", len(ids)),
	)
	start := time.Now()
	var deleteErr error
	result := &DeleteResult{Failed: make(map[string]error)}
	defer func() {
		endSpan(deleteErr)
		s.otel.recordTrash(ctx, time.Since(start), len(result.Trashed), len(result.Failed), deleteErr)
	}()

	chunkSize := s.opts.trashChunkSize
	chunks := make([][]string, 0, (len(ids)+chunkSize-1)/chunkSize)
	for begin := 0; begin < len(ids); begin += chunkSize {
		chunks = append(chunks, ids[begin:min(begin+chunkSize, len(ids))])
	}

	outcomes := make([]chunkOutcome, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.maxConcurrentCalls)
	for i, chunk := range chunks {
		g.Go(func() error {
			outcomes[i] = s.trashChunk(gctx, chunk)
			return nil
		})
	}
	g.Wait()

	for _, out := range outcomes {
		result.Trashed = append(result.Trashed, out.trashed...)
		for id, err := range out.failed {
			result.Failed[id] = err
		}
	}

	if len(result.Trashed) > 0 {
		if err := s.events.MessagesTrashed.Publish(ctx, MessagesTrashedEvent{
			MessageIDs:  result.Trashed,
			FailedCount: len(result.Failed),
			TrashedAt:   time.Now().UTC(),
		}); err != nil {
			if s.opts.eventErrorsFatal {
				deleteErr = &EventPublishError{Event: "MessagesTrashed", Err: err}
				return result, deleteErr
			}
			s.opts.safeEventPublishFailure("MessagesTrashed", err)
		}
	}

	s.logger.Info("bulk trash finished",
		"requested", len(ids), "trashed", len(result.Trashed), "failed", len(result.Failed))

	if len(result.Failed) > 0 {
		deleteErr = &PartialTrashError{Trashed: result.Trashed, Failed: result.Failed}
		return result, deleteErr
	}
	return result, nil
}

// trashChunk trashes one chunk with retry and evicts the successes from the
// cache. Remote failures mark every id in the chunk; a cache eviction
// failure is logged but does not fail the chunk, since the messages are
// already trashed remotely and a later sync reconciles the cache.
func (s *service) trashChunk(ctx context.Context, chunk []string) chunkOutcome {
	outcomes, err := retry.DoWithResult(ctx, s.opts.retry, func(ctx context.Context) (map[string]error, error) {
		var m map[string]error
		lerr := s.limiter.Do(ctx, func(ctx context.Context) error {
			var e error
			m, e = s.client.Trash(ctx, chunk)
			return e
		})
		return m, lerr
	})
	if err != nil {
		failed := make(map[string]error, len(chunk))
		for _, id := range chunk {
			failed[id] = err
		}
		return chunkOutcome{failed: failed}
	}

	out := chunkOutcome{trashed: make([]string, 0, len(chunk))}
	for _, id := range chunk {
		if idErr, ok := outcomes[id]; ok && idErr != nil {
			if out.failed == nil {
				out.failed = make(map[string]error)
			}
			out.failed[id] = idErr
			continue
		}
		out.trashed = append(out.trashed, id)
	}

	if len(out.trashed) > 0 {
		if _, err := s.cache.Remove(ctx, out.trashed); err != nil {
			s.logger.Warn("failed to evict trashed ids from cache",
				"count", len(out.trashed), "error", err)
		}
	}
	return out
}

// dedupeIDs collapses duplicates while preserving first-seen order and
// dropping empty ids.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	return unique
}

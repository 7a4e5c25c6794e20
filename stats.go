package mailsweep

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/mailsweep/cache"
)

// StatsQuery filters the sender aggregation.
type StatsQuery struct {
	// Before keeps only messages received strictly before this instant.
	// Zero means no date filter.
	Before time.Time
	// Category keeps only messages in this inbox category.
	// Empty or cache.CategoryAll means no category filter.
	Category cache.Category
	// Limit caps the number of senders returned, applied after ordering.
	// Zero or negative means no cap.
	Limit int
}

// SenderAggregate is one sender's rollup over the filtered cache.
type SenderAggregate struct {
	// Email is the normalized (lowercased) sender address.
	Email string `json:"email"`
	// DisplayName is the display name from the sender's most recent message.
	DisplayName string `json:"display_name"`
	// Count is the number of matching messages from this sender.
	Count int `json:"count"`
	// LastDate is the most recent matching message's received time.
	LastDate time.Time `json:"last_date"`
	// IDs are the matching message ids, ready to hand to Delete.
	IDs []string `json:"ids"`
}

// StatsMeta describes the population the aggregates were computed over.
type StatsMeta struct {
	// TotalMatched is the number of cached messages that passed the filters.
	TotalMatched int `json:"total_matched"`
	// TotalCached is the number of messages in the cache snapshot.
	TotalCached int `json:"total_cached"`
	// OldestDate is the earliest received time across the whole cache
	// snapshot, independent of the query filters.
	OldestDate time.Time `json:"oldest_date,omitzero"`
}

// StatsResult is the outcome of a Stats query.
type StatsResult struct {
	// Senders are the aggregates, ordered by count descending, then most
	// recent message descending, then email ascending.
	Senders []SenderAggregate `json:"senders"`
	// Meta describes the filtered population.
	Meta StatsMeta `json:"meta"`
}

// Stats computes per-sender aggregates from the local cache in one pass
// over a snapshot. The remote service is never consulted; results reflect
// whatever the last sync stored.
func (s *service) Stats(ctx context.Context, q StatsQuery) (*StatsResult, error) {
	if err := s.checkAccess(); err != nil {
		return nil, err
	}

	ctx, endSpan := s.otel.startSpan(ctx, "mailsweep.stats",
		attribute.String("category", string(q.Category)),
	)
	start := time.Now()
	var statsErr error
	var senderCount int
	defer func() {
		endSpan(statsErr)
		s.otel.recordStats(ctx, time.Since(start), senderCount, statsErr)
	}()

	result, err := s.computeStats(ctx, q)
	if err != nil {
		statsErr = err
		return nil, err
	}
	senderCount = len(result.Senders)

	return result, nil
}

func (s *service) computeStats(ctx context.Context, q StatsQuery) (*StatsResult, error) {
	iter, err := s.cache.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}

	filterCategory := q.Category != "" && q.Category != cache.CategoryAll

	byEmail := make(map[string]*SenderAggregate)
	meta := StatsMeta{}

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
		meta.TotalCached++
		if meta.OldestDate.IsZero() || rec.ReceivedAt.Before(meta.OldestDate) {
			meta.OldestDate = rec.ReceivedAt
		}

		if !q.Before.IsZero() && !rec.ReceivedAt.Before(q.Before) {
			continue
		}
		if filterCategory && rec.Category != q.Category {
			continue
		}

		meta.TotalMatched++

		agg, ok := byEmail[rec.SenderEmail]
		if !ok {
			agg = &SenderAggregate{
				Email:       rec.SenderEmail,
				DisplayName: rec.SenderName,
				LastDate:    rec.ReceivedAt,
			}
			byEmail[rec.SenderEmail] = agg
		}
		agg.Count++
		agg.IDs = append(agg.IDs, rec.ID)
		if rec.ReceivedAt.After(agg.LastDate) {
			agg.LastDate = rec.ReceivedAt
			agg.DisplayName = rec.SenderName
		}
	}

	senders := make([]SenderAggregate, 0, len(byEmail))
	for _, agg := range byEmail {
		senders = append(senders, *agg)
	}

	// Deterministic ordering: busiest senders first, recency breaks count
	// ties, email breaks the rest.
	sort.Slice(senders, func(i, j int) bool {
		if senders[i].Count != senders[j].Count {
			return senders[i].Count > senders[j].Count
		}
		if !senders[i].LastDate.Equal(senders[j].LastDate) {
			return senders[i].LastDate.After(senders[j].LastDate)
		}
		return senders[i].Email < senders[j].Email
	})

	if q.Limit > 0 && len(senders) > q.Limit {
		senders = senders[:q.Limit]
	}

	return &StatsResult{Senders: senders, Meta: meta}, nil
}

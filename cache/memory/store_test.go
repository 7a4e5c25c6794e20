package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/mailsweep/cache"
)

func testRecords(n int) []cache.Record {
	recs := make([]cache.Record, 0, n)
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	for i := range n {
		recs = append(recs, cache.Record{
			ID:          string(rune('a'+i)) + "-msg",
			SenderEmail: "sender@example.com",
			SenderName:  "Sender",
			ReceivedAt:  base.AddDate(0, 0, -i),
			Category:    cache.CategoryPromotions,
			FetchedAt:   base,
		})
	}
	return recs
}

func connectedStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

func drain(t *testing.T, ctx context.Context, it cache.Iterator) []cache.Record {
	t.Helper()
	var recs []cache.Record
	for {
		ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		if !ok {
			return recs
		}
		rec, err := it.Record()
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		recs = append(recs, rec)
	}
}

func TestConnectLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Connect(ctx); !errors.Is(err, cache.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Close is idempotent, reconnect is allowed.
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
}

func TestNotConnectedErrors(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Upsert(ctx, testRecords(1)); !errors.Is(err, cache.ErrNotConnected) {
		t.Errorf("upsert: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.All(ctx); !errors.Is(err, cache.ErrNotConnected) {
		t.Errorf("all: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.Remove(ctx, []string{"x"}); !errors.Is(err, cache.ErrNotConnected) {
		t.Errorf("remove: expected ErrNotConnected, got %v", err)
	}
	if err := s.Clear(ctx); !errors.Is(err, cache.ErrNotConnected) {
		t.Errorf("clear: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.Count(ctx); !errors.Is(err, cache.ErrNotConnected) {
		t.Errorf("count: expected ErrNotConnected, got %v", err)
	}
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()

	t.Run("writes and counts", func(t *testing.T) {
		s := connectedStore(t)
		if err := s.Upsert(ctx, testRecords(3)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		count, err := s.Count(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 records, got %d", count)
		}
	})

	t.Run("last write wins", func(t *testing.T) {
		s := connectedStore(t)
		rec := testRecords(1)[0]
		if err := s.Upsert(ctx, []cache.Record{rec}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		rec.SenderName = "Updated"
		if err := s.Upsert(ctx, []cache.Record{rec}); err != nil {
			t.Fatalf("second upsert: %v", err)
		}

		it, err := s.All(ctx)
		if err != nil {
			t.Fatalf("all: %v", err)
		}
		recs := drain(t, ctx, it)
		if len(recs) != 1 {
			t.Fatalf("expected 1 record, got %d", len(recs))
		}
		if recs[0].SenderName != "Updated" {
			t.Errorf("expected overwritten record, got %q", recs[0].SenderName)
		}
	})

	t.Run("rejects blank id", func(t *testing.T) {
		s := connectedStore(t)
		err := s.Upsert(ctx, []cache.Record{{ID: "  "}})
		if !errors.Is(err, cache.ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
		count, _ := s.Count(ctx)
		if count != 0 {
			t.Errorf("nothing should be written on validation failure, got %d", count)
		}
	})
}

func TestAll(t *testing.T) {
	ctx := context.Background()

	t.Run("iterates ordered by id", func(t *testing.T) {
		s := connectedStore(t)
		if err := s.Upsert(ctx, testRecords(5)); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		it, err := s.All(ctx)
		if err != nil {
			t.Fatalf("all: %v", err)
		}
		recs := drain(t, ctx, it)
		if len(recs) != 5 {
			t.Fatalf("expected 5 records, got %d", len(recs))
		}
		for i := 1; i < len(recs); i++ {
			if recs[i-1].ID >= recs[i].ID {
				t.Fatalf("ids not ordered: %s >= %s", recs[i-1].ID, recs[i].ID)
			}
		}
	})

	t.Run("snapshot is isolated from later writes", func(t *testing.T) {
		s := connectedStore(t)
		if err := s.Upsert(ctx, testRecords(3)); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		it, err := s.All(ctx)
		if err != nil {
			t.Fatalf("all: %v", err)
		}
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("clear: %v", err)
		}

		if got := len(drain(t, ctx, it)); got != 3 {
			t.Errorf("snapshot should survive a clear, got %d records", got)
		}
	})

	t.Run("empty store yields nothing", func(t *testing.T) {
		s := connectedStore(t)
		it, err := s.All(ctx)
		if err != nil {
			t.Fatalf("all: %v", err)
		}
		if got := len(drain(t, ctx, it)); got != 0 {
			t.Errorf("expected no records, got %d", got)
		}
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := connectedStore(t)
	if err := s.Upsert(ctx, testRecords(4)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// One present, one missing.
	removed, err := s.Remove(ctx, []string{"a-msg", "nope"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	count, _ := s.Count(ctx)
	if count != 3 {
		t.Errorf("expected 3 left, got %d", count)
	}

	removed, err = s.Remove(ctx, nil)
	if err != nil || removed != 0 {
		t.Errorf("empty remove should be a no-op, got %d/%v", removed, err)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := connectedStore(t)
	if err := s.Upsert(ctx, testRecords(3)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty store, got %d", count)
	}
}

package mailsweep

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/event/v3/transport/channel"

	"github.com/rbaliyan/mailsweep/cache"
	"github.com/rbaliyan/mailsweep/cache/memory"
	"github.com/rbaliyan/mailsweep/gmail"
	"github.com/rbaliyan/mailsweep/retry"
)

// fakeClient is an in-memory gmail.Client for tests. The listing pages
// through records in order, with the cursor encoding the next offset.
type fakeClient struct {
	mu      sync.Mutex
	records []cache.Record

	listErr    error
	fetchErr   error
	trashErr   error
	accountErr error

	// trashOutcome overrides the per-id outcome for Trash calls.
	trashOutcome map[string]error

	// accountTotal, when non-zero, overrides the profile message total.
	accountTotal int64

	// blockList, when non-nil, makes ListMessageIDs wait until the channel
	// is closed or the context is cancelled.
	blockList chan struct{}

	listCalls  int
	fetchCalls int
	trashCalls int
	trashed    [][]string
}

func (f *fakeClient) ListMessageIDs(ctx context.Context, cursor string, pageSize int64) (gmail.ListPage, error) {
	f.mu.Lock()
	f.listCalls++
	block := f.blockList
	listErr := f.listErr
	records := f.records
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return gmail.ListPage{}, ctx.Err()
		}
	}
	if listErr != nil {
		return gmail.ListPage{}, listErr
	}

	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil {
			return gmail.ListPage{}, fmt.Errorf("bad cursor %q", cursor)
		}
	}
	end := min(start+int(pageSize), len(records))

	page := gmail.ListPage{IDs: make([]string, 0, end-start)}
	for _, rec := range records[start:end] {
		page.IDs = append(page.IDs, rec.ID)
	}
	if end < len(records) {
		page.NextCursor = strconv.Itoa(end)
	} else {
		page.Done = true
	}
	return page, nil
}

func (f *fakeClient) FetchHeaders(ctx context.Context, ids []string) ([]cache.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	byID := make(map[string]cache.Record, len(f.records))
	for _, rec := range f.records {
		byID[rec.ID] = rec
	}
	out := make([]cache.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			rec.FetchedAt = time.Now().UTC()
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeClient) Trash(ctx context.Context, ids []string) (map[string]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trashCalls++
	f.trashed = append(f.trashed, append([]string(nil), ids...))
	if f.trashErr != nil {
		return nil, f.trashErr
	}
	outcomes := make(map[string]error, len(ids))
	for _, id := range ids {
		outcomes[id] = f.trashOutcome[id]
	}
	return outcomes, nil
}

func (f *fakeClient) AccountInfo(ctx context.Context) (*gmail.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	total := int64(len(f.records))
	if f.accountTotal > 0 {
		total = f.accountTotal
	}
	return &gmail.Account{
		EmailAddress:  "user@example.com",
		MessagesTotal: total,
		ThreadsTotal:  total,
	}, nil
}

// fakeRecords builds n records from distinct senders a@x.com / b@y.com in
// alternation, with received times stepping back one day per message.
func fakeRecords(n int) []cache.Record {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	recs := make([]cache.Record, 0, n)
	for i := range n {
		sender, name := "a@x.com", "Alice"
		if i%2 == 1 {
			sender, name = "b@y.com", "Bob"
		}
		recs = append(recs, cache.Record{
			ID:          fmt.Sprintf("m%03d", i),
			SenderEmail: sender,
			SenderName:  name,
			ReceivedAt:  base.AddDate(0, 0, -i),
			Category:    cache.CategoryPromotions,
			ThreadID:    fmt.Sprintf("t%03d", i),
		})
	}
	return recs
}

// fastRetry keeps test failures quick.
func fastRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 1
	cfg.InitialBackoff = time.Millisecond
	return cfg
}

func setupTestService(t *testing.T, client gmail.Client, opts ...Option) Service {
	t.Helper()
	opts = append([]Option{
		WithCache(memory.New()),
		WithClient(client),
		WithRequestRate(10000, 100),
		WithRetry(fastRetry()),
	}, opts...)
	svc, err := NewService(opts...)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	ctx := context.Background()
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

// waitForSync polls until the run settles.
func waitForSync(t *testing.T, svc Service) SyncState {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st := svc.SyncStatus()
		if !st.IsRunning() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sync did not settle in time")
	return SyncState{}
}

func TestNewService(t *testing.T) {
	t.Run("requires cache", func(t *testing.T) {
		_, err := NewService(WithClient(&fakeClient{}))
		if !errors.Is(err, ErrCacheRequired) {
			t.Errorf("expected ErrCacheRequired, got %v", err)
		}
	})

	t.Run("requires client", func(t *testing.T) {
		_, err := NewService(WithCache(memory.New()))
		if !errors.Is(err, ErrClientRequired) {
			t.Errorf("expected ErrClientRequired, got %v", err)
		}
	})

	t.Run("creates service", func(t *testing.T) {
		svc, err := NewService(WithCache(memory.New()), WithClient(&fakeClient{}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	t.Run("connect and close", func(t *testing.T) {
		svc, err := NewService(WithCache(memory.New()), WithClient(&fakeClient{}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		ctx := context.Background()

		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		// Double connect should fail
		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}

		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		// Double close should be safe
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close should not error, got %v", err)
		}
	})

	t.Run("operations fail when not connected", func(t *testing.T) {
		svc, _ := NewService(WithCache(memory.New()), WithClient(&fakeClient{}))
		ctx := context.Background()

		if _, err := svc.StartSync(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("StartSync: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.Stats(ctx, StatsQuery{}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Stats: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.Delete(ctx, []string{"m1"}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Delete: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.AccountInfo(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("AccountInfo: expected ErrNotConnected, got %v", err)
		}
	})
}

func TestSyncRun(t *testing.T) {
	ctx := context.Background()

	t.Run("full run caches every message", func(t *testing.T) {
		fake := &fakeClient{records: fakeRecords(25)}
		svc := setupTestService(t, fake, WithPageSize(10), WithFetchBatchSize(7))

		runID, err := svc.StartSync(ctx)
		if err != nil {
			t.Fatalf("start sync: %v", err)
		}
		if runID == "" {
			t.Fatal("expected a run id")
		}

		st := waitForSync(t, svc)
		if st.Status != SyncComplete {
			t.Fatalf("expected complete, got %s (error %q)", st.Status, st.Error)
		}
		if st.ScannedCount != 25 {
			t.Errorf("expected 25 scanned, got %d", st.ScannedCount)
		}
		if st.TotalToScan != 25 {
			t.Errorf("expected denominator 25, got %d", st.TotalToScan)
		}
		if st.RunID != runID {
			t.Errorf("expected run id %s, got %s", runID, st.RunID)
		}
		if st.FinishedAt.IsZero() {
			t.Error("expected finished timestamp")
		}

		count, err := svc.(*service).cache.Count(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 25 {
			t.Errorf("expected 25 cached records, got %d", count)
		}
	})

	t.Run("progress is monotonic while running", func(t *testing.T) {
		fake := &fakeClient{records: fakeRecords(200)}
		svc := setupTestService(t, fake, WithPageSize(10))

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}

		last := -1
		for svc.SyncStatus().IsRunning() {
			st := svc.SyncStatus()
			if st.ScannedCount < last {
				t.Fatalf("scanned count went backwards: %d -> %d", last, st.ScannedCount)
			}
			last = st.ScannedCount
			time.Sleep(time.Millisecond)
		}

		st := waitForSync(t, svc)
		if st.Status != SyncComplete || st.ScannedCount != 200 {
			t.Fatalf("expected complete with 200 scanned, got %s/%d", st.Status, st.ScannedCount)
		}
	})

	t.Run("second start while running is rejected", func(t *testing.T) {
		block := make(chan struct{})
		fake := &fakeClient{records: fakeRecords(5), blockList: block}
		svc := setupTestService(t, fake)

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}
		if _, err := svc.StartSync(ctx); !errors.Is(err, ErrSyncRunning) {
			t.Errorf("expected ErrSyncRunning, got %v", err)
		}

		close(block)
		waitForSync(t, svc)

		// A settled run can be restarted.
		if _, err := svc.StartSync(ctx); err != nil {
			t.Errorf("restart after completion failed: %v", err)
		}
		waitForSync(t, svc)
	})

	t.Run("stop settles as complete", func(t *testing.T) {
		block := make(chan struct{})
		fake := &fakeClient{records: fakeRecords(5), blockList: block}
		svc := setupTestService(t, fake)

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}

		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := svc.StopSync(stopCtx); err != nil {
			t.Fatalf("stop sync: %v", err)
		}

		st := svc.SyncStatus()
		if st.Status != SyncComplete {
			t.Errorf("expected complete after stop, got %s", st.Status)
		}
		if st.Error != "" {
			t.Errorf("expected no error after stop, got %q", st.Error)
		}
	})

	t.Run("stop when idle is a no-op", func(t *testing.T) {
		svc := setupTestService(t, &fakeClient{records: fakeRecords(1)})
		if err := svc.StopSync(ctx); err != nil {
			t.Errorf("stop on idle service: %v", err)
		}
	})

	t.Run("auth failure aborts the run", func(t *testing.T) {
		fake := &fakeClient{records: fakeRecords(5), accountErr: gmail.ErrAuth}
		svc := setupTestService(t, fake)

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}

		st := waitForSync(t, svc)
		if st.Status != SyncError {
			t.Fatalf("expected error status, got %s", st.Status)
		}
		if st.Error == "" {
			t.Error("expected error description")
		}
	})

	t.Run("exhausted header retries skip the batch and continue", func(t *testing.T) {
		fake := &fakeClient{records: fakeRecords(10), fetchErr: gmail.ErrTransport}
		svc := setupTestService(t, fake, WithPageSize(5))

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}
		st := waitForSync(t, svc)
		if st.Status != SyncComplete {
			t.Fatalf("expected complete with batches skipped, got %s (%s)", st.Status, st.Error)
		}
		if st.ScannedCount != 10 {
			t.Errorf("expected the full listing scanned, got %d", st.ScannedCount)
		}
		if st.SkippedCount != 10 {
			t.Errorf("expected 10 skipped, got %d", st.SkippedCount)
		}

		// Nothing was cached; the next run retries the skipped ids.
		count, err := svc.(*service).cache.Count(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 0 {
			t.Errorf("expected empty cache, got %d records", count)
		}
	})

	t.Run("auth failure during header fetch aborts the run", func(t *testing.T) {
		fake := &fakeClient{records: fakeRecords(5), fetchErr: gmail.ErrAuth}
		svc := setupTestService(t, fake)

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}
		st := waitForSync(t, svc)
		if st.Status != SyncError {
			t.Fatalf("expected error status, got %s", st.Status)
		}
	})

	t.Run("transient list failures are retried", func(t *testing.T) {
		fake := &fakeClient{records: fakeRecords(5)}
		fake.listErr = gmail.ErrTransport
		svc := setupTestService(t, fake)

		// Clear the fault after the first attempt has had a chance to fail.
		go func() {
			time.Sleep(10 * time.Millisecond)
			fake.mu.Lock()
			fake.listErr = nil
			fake.mu.Unlock()
		}()

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}
		st := waitForSync(t, svc)
		// Either the retry caught the cleared fault or retries exhausted;
		// both are legal outcomes for this timing, but a complete run must
		// have scanned everything.
		if st.Status == SyncComplete && st.ScannedCount != 5 {
			t.Errorf("complete run scanned %d of 5", st.ScannedCount)
		}
	})

	t.Run("scan limit caps the run", func(t *testing.T) {
		fake := &fakeClient{records: fakeRecords(30)}
		svc := setupTestService(t, fake, WithPageSize(10), WithMaxScan(15))

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}
		st := waitForSync(t, svc)
		if st.Status != SyncComplete {
			t.Fatalf("expected complete, got %s (%s)", st.Status, st.Error)
		}
		if st.ScannedCount > 15 {
			t.Errorf("scan limit ignored: scanned %d", st.ScannedCount)
		}
		if st.TotalToScan != 15 {
			t.Errorf("expected denominator capped at 15, got %d", st.TotalToScan)
		}
	})

	t.Run("denominator rises when the mailbox outgrows the profile", func(t *testing.T) {
		// The profile says 5 messages but the listing yields 10, as happens
		// when mail arrives mid-run.
		fake := &fakeClient{records: fakeRecords(10), accountTotal: 5}
		svc := setupTestService(t, fake, WithPageSize(4))

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}
		st := waitForSync(t, svc)
		if st.Status != SyncComplete {
			t.Fatalf("expected complete, got %s (%s)", st.Status, st.Error)
		}
		if st.ScannedCount != 10 {
			t.Errorf("expected 10 scanned, got %d", st.ScannedCount)
		}
		if st.TotalToScan < st.ScannedCount {
			t.Errorf("denominator %d fell below scanned %d", st.TotalToScan, st.ScannedCount)
		}
	})

	t.Run("fresh cached messages are skipped but counted", func(t *testing.T) {
		records := fakeRecords(10)
		fake := &fakeClient{records: records}

		store := memory.New()
		svc := setupTestService(t, fake, WithCache(store))

		// Pre-populate the cache with fresh copies of everything.
		now := time.Now().UTC()
		seeded := make([]cache.Record, len(records))
		for i, rec := range records {
			rec.FetchedAt = now
			seeded[i] = rec
		}
		if err := store.Upsert(ctx, seeded); err != nil {
			t.Fatalf("seed cache: %v", err)
		}

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}
		st := waitForSync(t, svc)
		if st.Status != SyncComplete {
			t.Fatalf("expected complete, got %s (%s)", st.Status, st.Error)
		}
		if st.ScannedCount != 10 {
			t.Errorf("expected skipped messages to count as scanned, got %d", st.ScannedCount)
		}

		fake.mu.Lock()
		fetches := fake.fetchCalls
		fake.mu.Unlock()
		if fetches != 0 {
			t.Errorf("expected no metadata fetches for a fresh cache, got %d", fetches)
		}
	})

	t.Run("works with channel event transport", func(t *testing.T) {
		fake := &fakeClient{records: fakeRecords(3)}
		svc := setupTestService(t, fake, WithEventTransport(channel.New()))

		if _, err := svc.StartSync(ctx); err != nil {
			t.Fatalf("start sync: %v", err)
		}
		st := waitForSync(t, svc)
		if st.Status != SyncComplete {
			t.Fatalf("expected complete, got %s (%s)", st.Status, st.Error)
		}
	})
}

func TestCloseStopsRunningSync(t *testing.T) {
	ctx := context.Background()
	block := make(chan struct{})
	defer close(block)

	fake := &fakeClient{records: fakeRecords(5), blockList: block}
	svc := setupTestService(t, fake, WithShutdownTimeout(2*time.Second))

	if _, err := svc.StartSync(ctx); err != nil {
		t.Fatalf("start sync: %v", err)
	}

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close with running sync: %v", err)
	}
	if svc.IsConnected() {
		t.Error("expected disconnected after close")
	}
}

func TestAccountInfo(t *testing.T) {
	ctx := context.Background()
	fake := &fakeClient{records: fakeRecords(7)}
	svc := setupTestService(t, fake)

	account, err := svc.AccountInfo(ctx)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if account.EmailAddress != "user@example.com" {
		t.Errorf("unexpected address %q", account.EmailAddress)
	}
	if account.MessagesTotal != 7 {
		t.Errorf("expected 7 messages, got %d", account.MessagesTotal)
	}

	fake.mu.Lock()
	fake.accountErr = gmail.ErrAuth
	fake.mu.Unlock()
	if _, err := svc.AccountInfo(ctx); !errors.Is(err, gmail.ErrAuth) {
		t.Errorf("expected auth error to surface, got %v", err)
	}
}

func TestClearCache(t *testing.T) {
	ctx := context.Background()
	fake := &fakeClient{records: fakeRecords(4)}
	svc := setupTestService(t, fake)

	if _, err := svc.StartSync(ctx); err != nil {
		t.Fatalf("start sync: %v", err)
	}
	waitForSync(t, svc)

	if err := svc.ClearCache(ctx); err != nil {
		t.Fatalf("clear cache: %v", err)
	}

	count, err := svc.(*service).cache.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty cache, got %d records", count)
	}
	if st := svc.SyncStatus(); st.Status != SyncIdle {
		t.Errorf("expected idle state after clear, got %s", st.Status)
	}
}

// Package mailsweep provides a Gmail sync and cache engine for Go.
//
// It pulls message metadata (sender, date, category) from a Gmail account
// under a configurable rate budget, persists it to a local queryable cache,
// serves per-sender aggregates from that cache, and executes rate-limited
// bulk trash operations with partial-failure tracking. All functionality is
// exposed via interfaces, with pluggable cache backends (SQLite, PostgreSQL,
// MongoDB, JSON file, in-memory).
//
// # Basic Usage
//
//	// Build the Gmail API service with your oauth2 credentials, then
//	// wrap it in the engine's client adapter.
//	client := gmail.NewGoogleClient(gmailService)
//
//	// Create the engine with a SQLite cache
//	store := sqlite.New("mailsweep.db")
//	svc, err := mailsweep.NewService(
//	    mailsweep.WithCache(store),
//	    mailsweep.WithClient(client),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes the cache schema
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// Kick off a background sync and poll its progress
//	runID, _ := svc.StartSync(ctx)
//	for svc.SyncStatus().IsRunning() {
//	    time.Sleep(time.Second)
//	}
//
//	// Aggregate cached messages by sender
//	stats, _ := svc.Stats(ctx, mailsweep.StatsQuery{
//	    Before:   time.Now().AddDate(0, -6, 0),
//	    Category: cache.CategoryPromotions,
//	})
//
//	// Trash everything from the noisiest sender
//	if len(stats.Senders) > 0 {
//	    svc.Delete(ctx, stats.Senders[0].IDs)
//	}
//
// # Operations
//
//   - StartSync/StopSync/SyncStatus: Background metadata sync with progress
//   - Stats: Per-sender aggregates over the local cache
//   - Delete: Chunked bulk trash with per-id failure tracking
//   - AccountInfo: Live profile totals, proxied through the rate budget
//   - ClearCache: Reset the local cache and sync state
//
// # Cache Backends
//
// The cache package provides implementations for:
//   - SQLite (cache/sqlite) - single-file local cache
//   - PostgreSQL (cache/postgres) - accepts *sql.DB
//   - MongoDB (cache/mongo) - accepts *mongo.Client
//   - JSON file (cache/file) - human-inspectable local cache
//   - In-memory (cache/memory) - for testing
//
// # Events
//
// Mailsweep provides typed events for sync and trash lifecycle
// notifications. Events use the github.com/rbaliyan/event/v3 library which
// supports multiple transports (Redis Streams, NATS, Kafka, in-memory
// channel).
//
// To enable events, pass WithRedisClient or WithEventTransport when creating
// the service:
//
//	svc, err := mailsweep.NewService(
//	    mailsweep.WithCache(store),
//	    mailsweep.WithClient(client),
//	    mailsweep.WithRedisClient(redisClient),
//	)
//
// Events are automatically registered during Connect(). Access per-service
// events via the Events() method:
//
//	events := svc.Events()
//	events.SyncFinished.Subscribe(ctx, handler)
//	events.MessagesTrashed.Subscribe(ctx, handler)
//
// Available events:
//   - SyncStarted - when a sync run begins
//   - SyncFinished - when a sync run ends
//   - MessagesTrashed - after a bulk trash operation
//   - CacheCleared - when the local cache is cleared
package mailsweep

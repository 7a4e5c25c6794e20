package mailsweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"

	"github.com/rbaliyan/mailsweep/cache"
	"github.com/rbaliyan/mailsweep/gmail"
	"github.com/rbaliyan/mailsweep/rate"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service is the sync and cache engine for one mail account.
// It pulls message metadata from the remote service under a rate budget,
// persists it to a local cache, serves sender aggregates from that cache,
// and executes rate-limited bulk trash operations.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
type Service interface {
	ServiceHealth

	// Connect establishes the cache connection and the event bus.
	Connect(ctx context.Context) error
	// Close stops any running sync and closes all connections.
	Close(ctx context.Context) error

	// StartSync begins a background sync run and returns its run id.
	// Only one run per service at a time; a second call returns
	// ErrSyncRunning. The run outlives the calling context.
	StartSync(ctx context.Context) (string, error)
	// StopSync requests cooperative cancellation of the running sync and
	// waits for it to settle. Stopping an idle service is a no-op.
	StopSync(ctx context.Context) error
	// SyncStatus returns a snapshot of the current sync state. Safe to
	// poll concurrently with a running sync.
	SyncStatus() SyncState

	// Stats computes per-sender aggregates from the local cache.
	Stats(ctx context.Context, q StatsQuery) (*StatsResult, error)

	// Delete moves the given message ids to trash in rate-limited chunks
	// and evicts the successful ids from the cache. Partial failures are
	// reported via PartialTrashError.
	Delete(ctx context.Context, ids []string) (*DeleteResult, error)

	// AccountInfo proxies profile-level account information from the
	// remote service. Never cached.
	AccountInfo(ctx context.Context) (*gmail.Account, error)

	// ClearCache removes all cached records and resets the sync state.
	ClearCache(ctx context.Context) error

	// Events returns per-service event instances for subscribing and publishing.
	Events() *ServiceEvents
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	cache    cache.Store
	client   gmail.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	otel     *otelInstrumentation
	eventBus *event.Bus
	events   *ServiceEvents

	// Sync controller state, guarded by syncMu.
	syncMu     sync.Mutex
	syncState  SyncState
	syncCancel context.CancelFunc
	syncDone   chan struct{}
}

// NewService creates a new mailsweep service.
// Call Connect() to establish the cache connection before use.
//
// Authentication is NOT included in this library. Build the mail client
// with its own credentials and hand it in via WithClient.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.cache == nil {
		return nil, ErrCacheRequired
	}
	if o.client == nil {
		return nil, ErrClientRequired
	}

	// Initialize OTel instrumentation
	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	limiter := o.limiter
	if limiter == nil {
		limiter = rate.New(o.requestsPerSecond, o.burst, o.maxConcurrentCalls)
	}

	return &service{
		cache:   o.cache,
		client:  o.client,
		limiter: limiter,
		logger:  o.logger,
		opts:    o,
		otel:    otelInstr,
		syncState: SyncState{
			Status: SyncIdle,
		},
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// checkAccess verifies the service is ready for operations.
func (s *service) checkAccess() error {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}

// Connect establishes the cache connection and the event bus.
func (s *service) Connect(ctx context.Context) error {
	// Use three-state to prevent operations from seeing partial initialization
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.cache.Connect(ctx); err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.cache.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	success = true
	s.logger.Info("mailsweep service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
// Each service creates its own bus with its own event instances.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "mailsweep"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close stops any running sync and closes all connections.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Stop a running sync and wait for it to settle (graceful shutdown).
	// After setting state to disconnected, no new runs can start because
	// checkAccess fails.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.stopSyncAndWait(shutdownCtx); err != nil {
		s.logger.Warn("timeout waiting for sync to stop, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	}

	// Close event bus only if using a real transport.
	// For noop transport, the bus doesn't hold resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.cache.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}

	return errors.Join(errs...)
}

// ClearCache removes all cached records and resets the sync state.
// Fails with ErrSyncRunning while a sync is in progress so the running
// loop does not race the wipe.
func (s *service) ClearCache(ctx context.Context) error {
	if err := s.checkAccess(); err != nil {
		return err
	}

	s.syncMu.Lock()
	if s.syncState.Status == SyncRunning {
		s.syncMu.Unlock()
		return ErrSyncRunning
	}
	s.syncState = SyncState{Status: SyncIdle}
	s.syncMu.Unlock()

	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	if err := s.events.CacheCleared.Publish(ctx, CacheClearedEvent{
		ClearedAt: time.Now().UTC(),
	}); err != nil {
		if s.opts.eventErrorsFatal {
			return &EventPublishError{Event: "CacheCleared", Err: err}
		}
		s.opts.safeEventPublishFailure("CacheCleared", err)
	}

	return nil
}

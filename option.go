package mailsweep

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/mailsweep/cache"
	"github.com/rbaliyan/mailsweep/gmail"
	"github.com/rbaliyan/mailsweep/rate"
	"github.com/rbaliyan/mailsweep/retry"
)

// Default configuration values.
const (
	// Rate budget for outbound Gmail calls
	DefaultRequestsPerSecond  = 5.0
	DefaultBurst              = 10
	DefaultMaxConcurrentCalls = 4

	// Sync limits
	DefaultMaxScan        = 50000 // max messages scanned per sync run
	DefaultPageSize       = 500   // Gmail list page size (API maximum)
	DefaultFetchBatchSize = 100   // metadata fetches per limiter unit

	// Bulk trash
	DefaultTrashChunkSize = 1000 // Gmail batchModify maximum
	MaxTrashChunkSize     = 1000

	// Cache freshness: records fetched within this window are not refetched.
	DefaultStaleness = 24 * time.Hour

	// Shutdown
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second
)

// options holds mailsweep configuration.
type options struct {
	cache  cache.Store
	client gmail.Client
	logger *slog.Logger

	// Rate budget
	limiter            *rate.Limiter // overrides rps/burst/concurrency when set
	requestsPerSecond  float64
	burst              int
	maxConcurrentCalls int

	// Sync limits
	maxScan        int
	pageSize       int64
	fetchBatchSize int
	staleness      time.Duration

	// Bulk trash
	trashChunkSize int

	// Retry policy for transient remote failures
	retry retry.Config

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures cause operation to fail
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional, uses noop if nil)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "SyncFinished"), and err is
// the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
// If the callback panics, the panic is logged and suppressed to prevent
// cascading failures.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:             slog.Default(),
		requestsPerSecond:  DefaultRequestsPerSecond,
		burst:              DefaultBurst,
		maxConcurrentCalls: DefaultMaxConcurrentCalls,
		maxScan:            DefaultMaxScan,
		pageSize:           DefaultPageSize,
		fetchBatchSize:     DefaultFetchBatchSize,
		staleness:          DefaultStaleness,
		trashChunkSize:     DefaultTrashChunkSize,
		retry:              retry.DefaultConfig(),
		shutdownTimeout:    DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Remote errors carry their own classification; auth failures and
	// cancellations must never be retried.
	if o.retry.IsRetryable == nil {
		o.retry.IsRetryable = gmail.IsRetryable
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a mailsweep service.
type Option func(*options)

// --- Core Options ---

// WithCache sets the cache store (required).
func WithCache(s cache.Store) Option {
	return func(o *options) {
		if s != nil {
			o.cache = s
		}
	}
}

// WithClient sets the mail client (required).
func WithClient(c gmail.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Rate Budget Options ---

// WithLimiter sets a custom rate limiter, overriding WithRequestRate and
// WithMaxConcurrentCalls. Use this to share one budget across services
// talking to the same account.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) {
		if l != nil {
			o.limiter = l
		}
	}
}

// WithRequestRate sets the outbound request rate and burst capacity.
// Default is 5 requests per second with a burst of 10.
func WithRequestRate(rps float64, burst int) Option {
	return func(o *options) {
		if rps > 0 {
			o.requestsPerSecond = rps
		}
		if burst > 0 {
			o.burst = burst
		}
	}
}

// WithMaxConcurrentCalls sets the maximum number of remote calls in flight.
// Default is 4.
func WithMaxConcurrentCalls(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentCalls = n
		}
	}
}

// --- Sync Options ---

// WithMaxScan sets the maximum number of messages scanned per sync run.
// A run stops cleanly once this many messages have been considered.
// Default is 50000.
func WithMaxScan(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxScan = n
		}
	}
}

// WithPageSize sets the listing page size. Default is 500, the API maximum.
func WithPageSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithFetchBatchSize sets how many metadata fetches are grouped under one
// rate-limiter unit. Default is 100.
func WithFetchBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.fetchBatchSize = n
		}
	}
}

// WithStaleness sets the cache freshness window. Messages fetched within
// this window are skipped (but still counted) on subsequent sync runs.
// Zero disables skipping so every run refetches everything.
// Default is 24 hours.
func WithStaleness(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.staleness = d
		}
	}
}

// --- Bulk Trash Options ---

// WithTrashChunkSize sets how many ids go into one batch trash call.
// Values above the API maximum of 1000 are capped. Default is 1000.
func WithTrashChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.trashChunkSize = min(n, MaxTrashChunkSize)
		}
	}
}

// --- Retry Options ---

// WithRetry sets the retry policy for transient remote failures.
// If cfg.IsRetryable is nil the engine's error classification is used:
// rate-limit and transport failures retry, auth failures do not.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// --- Shutdown Options ---

// WithShutdownTimeout sets the maximum time to wait for a running sync
// during graceful shutdown. Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, spans are created for sync runs, stats queries and bulk
// trash operations. Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
// This is a convenience function equivalent to calling
// WithTracing(true) and WithMetrics(true).
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for OpenTelemetry telemetry and
// event bus naming. Default is "mailsweep".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures should
// cause the operation to fail. By default, event failures are logged but
// the operation succeeds (the sync still finished, the messages were still
// trashed).
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams for reliable delivery.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// This callback is invoked whenever an event fails to publish (and
// eventErrorsFatal is false). Use this for custom logging, metrics, or
// alerting on event failures.
//
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

package mailsweep

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mailsweep"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	// Sync runs
	syncLatency metric.Float64Histogram
	syncCount   metric.Int64Counter
	syncErrors  metric.Int64Counter
	syncScanned metric.Int64Counter

	// Stats queries
	statsLatency metric.Float64Histogram
	statsCount   metric.Int64Counter
	statsErrors  metric.Int64Counter

	// Bulk trash
	trashLatency metric.Float64Histogram
	trashCount   metric.Int64Counter
	trashErrors  metric.Int64Counter
	trashFailed  metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	// Initialize tracer
	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	// Initialize metrics
	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	// Sync metrics
	o.syncLatency, err = meter.Float64Histogram(
		"mailsweep.sync.duration",
		metric.WithDescription("Duration of sync runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.syncCount, err = meter.Int64Counter(
		"mailsweep.sync.count",
		metric.WithDescription("Number of sync runs"),
	)
	if err != nil {
		return err
	}

	o.syncErrors, err = meter.Int64Counter(
		"mailsweep.sync.errors",
		metric.WithDescription("Number of failed sync runs"),
	)
	if err != nil {
		return err
	}

	o.syncScanned, err = meter.Int64Counter(
		"mailsweep.sync.scanned",
		metric.WithDescription("Number of messages scanned by sync runs"),
	)
	if err != nil {
		return err
	}

	// Stats metrics
	o.statsLatency, err = meter.Float64Histogram(
		"mailsweep.stats.duration",
		metric.WithDescription("Duration of stats queries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.statsCount, err = meter.Int64Counter(
		"mailsweep.stats.count",
		metric.WithDescription("Number of stats queries"),
	)
	if err != nil {
		return err
	}

	o.statsErrors, err = meter.Int64Counter(
		"mailsweep.stats.errors",
		metric.WithDescription("Number of stats query errors"),
	)
	if err != nil {
		return err
	}

	// Trash metrics
	o.trashLatency, err = meter.Float64Histogram(
		"mailsweep.trash.duration",
		metric.WithDescription("Duration of bulk trash operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.trashCount, err = meter.Int64Counter(
		"mailsweep.trash.count",
		metric.WithDescription("Number of messages trashed"),
	)
	if err != nil {
		return err
	}

	o.trashErrors, err = meter.Int64Counter(
		"mailsweep.trash.errors",
		metric.WithDescription("Number of bulk trash errors"),
	)
	if err != nil {
		return err
	}

	o.trashFailed, err = meter.Int64Counter(
		"mailsweep.trash.failed",
		metric.WithDescription("Number of ids that failed to trash"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Caller should call the returned func with the operation error when done.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordSync records sync run metrics.
func (o *otelInstrumentation) recordSync(ctx context.Context, duration time.Duration, scanned int, err error) {
	if !o.metricsEnabled {
		return
	}

	o.syncLatency.Record(ctx, duration.Seconds())
	o.syncCount.Add(ctx, 1)
	o.syncScanned.Add(ctx, int64(scanned))
	if err != nil {
		o.syncErrors.Add(ctx, 1)
	}
}

// recordStats records stats query metrics.
func (o *otelInstrumentation) recordStats(ctx context.Context, duration time.Duration, senderCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("sender_count", senderCount),
	)

	o.statsLatency.Record(ctx, duration.Seconds(), attrs)
	o.statsCount.Add(ctx, 1, attrs)
	if err != nil {
		o.statsErrors.Add(ctx, 1, attrs)
	}
}

// recordTrash records bulk trash metrics.
func (o *otelInstrumentation) recordTrash(ctx context.Context, duration time.Duration, trashed, failed int, err error) {
	if !o.metricsEnabled {
		return
	}

	o.trashLatency.Record(ctx, duration.Seconds())
	o.trashCount.Add(ctx, int64(trashed))
	o.trashFailed.Add(ctx, int64(failed))
	if err != nil {
		o.trashErrors.Add(ctx, 1)
	}
}

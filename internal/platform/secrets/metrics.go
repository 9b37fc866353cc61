package secrets

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/hanko-field/orderdesk/internal/platform/secrets"

// fetchMetrics tolerates instruments that failed to register; a nil instrument is skipped.
type fetchMetrics struct {
	fetchLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
}

func newFetchMetrics(meter metric.Meter, logger *zap.Logger) fetchMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	var m fetchMetrics
	var err error
	if m.fetchLatency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
		m.fetchLatency = nil
	}
	if m.cacheHits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions answered from the in-process cache"),
	); err != nil {
		logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
		m.cacheHits = nil
	}
	return m
}

func (m fetchMetrics) latency(ctx context.Context, start time.Time, source string) {
	if m.fetchLatency == nil {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	m.fetchLatency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

func (m fetchMetrics) cacheHit(ctx context.Context, ref reference) {
	if m.cacheHits == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", ref.masked())))
}

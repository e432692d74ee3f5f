// Package telemetry provides OpenTelemetry instrumentation for sync and
// encoding dispatch.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/hanvq/facegallery/sync"

// SyncMetrics holds the OpenTelemetry instruments for album sync operations
type SyncMetrics struct {
	syncDuration  metric.Float64Histogram
	catalogPhotos metric.Int64Gauge
	dispatches    metric.Int64Counter
	now           func() time.Time
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"facegallery_sync_duration_seconds",
		metric.WithDescription("Duration of album sync operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	catalogPhotos, err := meter.Int64Gauge(
		"facegallery_album_photos_total",
		metric.WithDescription("Number of photos in each album after sync"),
		metric.WithUnit("{photo}"),
	)
	if err != nil {
		return nil, err
	}

	dispatches, err := meter.Int64Counter(
		"facegallery_encode_dispatches_total",
		metric.WithDescription("Number of encoding dispatches by outcome"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration:  syncDuration,
		catalogPhotos: catalogPhotos,
		dispatches:    dispatches,
		now:           time.Now,
	}, nil
}

// SyncStarted marks the start of a sync and returns a function that records
// its duration and outcome when called.
func (m *SyncMetrics) SyncStarted(albumID int64) func(ctx context.Context, success bool) {
	if m == nil || m.syncDuration == nil {
		return func(context.Context, bool) {}
	}

	start := m.now()
	return func(ctx context.Context, success bool) {
		attrs := []attribute.KeyValue{
			attribute.Int64("album_id", albumID),
			attribute.Bool("success", success),
		}
		m.syncDuration.Record(ctx, m.now().Sub(start).Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordCatalogSize records the album's photo count after a sync
func (m *SyncMetrics) RecordCatalogSize(ctx context.Context, albumID int64, count int) {
	if m == nil || m.catalogPhotos == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int64("album_id", albumID),
	}
	m.catalogPhotos.Record(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordDispatch records the outcome of an encoding dispatch
func (m *SyncMetrics) RecordDispatch(ctx context.Context, success bool) {
	if m == nil || m.dispatches == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
}

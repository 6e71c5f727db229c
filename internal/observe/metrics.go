// Package observe provides livemic's observability primitives: OpenTelemetry
// metrics, tracing spans and a trace-aware slog logger.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped from the feed
// server's /metrics endpoint. Tests should build their own instance with
// [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "livemic"

// Metrics holds the instruments for the recording pipeline. All fields are
// safe for concurrent use.
type Metrics struct {
	// BackendRequests counts backend calls by op ("start", "append", "stop")
	// and status ("ok", "error").
	BackendRequests metric.Int64Counter

	// BackendDuration tracks backend call latency by op.
	BackendDuration metric.Float64Histogram

	// Chunks counts emitted chunks by outcome ("appended", "skipped", "failed").
	Chunks metric.Int64Counter

	// ChunkBytes tracks the size of transmitted chunks.
	ChunkBytes metric.Int64Histogram

	// ChunkRetries counts append retries.
	ChunkRetries metric.Int64Counter

	// PendingUploads tracks chunks issued but not yet completed.
	PendingUploads metric.Int64UpDownCounter

	// ActiveSessions tracks sessions between start and a terminal state.
	ActiveSessions metric.Int64UpDownCounter

	// Sessions counts terminal sessions by final state.
	Sessions metric.Int64Counter

	// SessionDuration tracks recording time from start to terminal state.
	SessionDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates all instruments on the given [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BackendRequests, err = m.Int64Counter("livemic.backend.requests",
		metric.WithDescription("Backend calls by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = m.Float64Histogram("livemic.backend.duration",
		metric.WithDescription("Latency of backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("livemic.chunks",
		metric.WithDescription("Emitted audio chunks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ChunkBytes, err = m.Int64Histogram("livemic.chunk.bytes",
		metric.WithDescription("Size of transmitted audio chunks."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ChunkRetries, err = m.Int64Counter("livemic.chunk.retries",
		metric.WithDescription("Chunk append retries."),
	); err != nil {
		return nil, err
	}
	if met.PendingUploads, err = m.Int64UpDownCounter("livemic.uploads.pending",
		metric.WithDescription("Chunks issued but not yet acknowledged or abandoned."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("livemic.sessions.active",
		metric.WithDescription("Sessions that have not reached a terminal state."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("livemic.sessions",
		metric.WithDescription("Terminal sessions by final state."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("livemic.session.duration",
		metric.WithDescription("Session lifetime from start to terminal state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on the global
// meter provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordBackendCall records one backend call with its latency.
func (m *Metrics) RecordBackendCall(ctx context.Context, op string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BackendRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
	m.BackendDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("op", op),
	))
}

// RecordChunk records the outcome of one emitted chunk.
func (m *Metrics) RecordChunk(ctx context.Context, outcome string, size int) {
	m.Chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "appended" {
		m.ChunkBytes.Record(ctx, int64(size))
	}
}

// RecordSessionEnd records a session reaching a terminal state.
func (m *Metrics) RecordSessionEnd(ctx context.Context, state string, elapsed time.Duration) {
	m.ActiveSessions.Add(ctx, -1)
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
	m.SessionDuration.Record(ctx, elapsed.Seconds())
}

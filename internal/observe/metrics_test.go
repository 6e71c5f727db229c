package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumByAttr(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return 0
}

func TestRecordBackendCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBackendCall(ctx, "append", 20*time.Millisecond, nil)
	m.RecordBackendCall(ctx, "append", 30*time.Millisecond, nil)
	m.RecordBackendCall(ctx, "append", time.Second, errors.New("boom"))

	rm := collect(t, reader)
	met := findMetric(rm, "livemic.backend.requests")
	if met == nil {
		t.Fatal("requests metric not found")
	}
	if got := sumByAttr(t, met, "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumByAttr(t, met, "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}

	hist := findMetric(rm, "livemic.backend.duration")
	if hist == nil {
		t.Fatal("duration metric not found")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok || len(data.DataPoints) == 0 {
		t.Fatal("expected histogram data points")
	}
	if got := data.DataPoints[0].Count; got != 3 {
		t.Errorf("sample count = %d, want 3", got)
	}
}

func TestRecordChunkOutcomes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunk(ctx, "appended", 12000)
	m.RecordChunk(ctx, "appended", 9000)
	m.RecordChunk(ctx, "skipped", 0)

	rm := collect(t, reader)
	met := findMetric(rm, "livemic.chunks")
	if met == nil {
		t.Fatal("chunks metric not found")
	}
	if got := sumByAttr(t, met, "outcome", "appended"); got != 2 {
		t.Errorf("appended = %d, want 2", got)
	}
	if got := sumByAttr(t, met, "outcome", "skipped"); got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}

	bytes := findMetric(rm, "livemic.chunk.bytes")
	if bytes == nil {
		t.Fatal("bytes metric not found")
	}
	data, ok := bytes.Data.(metricdata.Histogram[int64])
	if !ok || len(data.DataPoints) == 0 {
		t.Fatal("expected int64 histogram")
	}
	if got := data.DataPoints[0].Sum; got != 21000 {
		t.Errorf("bytes sum = %d, want 21000", got)
	}
}

func TestRecordSessionEnd(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.RecordSessionEnd(ctx, "finished", 3*time.Second)

	rm := collect(t, reader)
	sessions := findMetric(rm, "livemic.sessions")
	if sessions == nil {
		t.Fatal("sessions metric not found")
	}
	if got := sumByAttr(t, sessions, "state", "finished"); got != 1 {
		t.Errorf("finished sessions = %d, want 1", got)
	}

	active := findMetric(rm, "livemic.sessions.active")
	if active == nil {
		t.Fatal("active metric not found")
	}
	sum := active.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 0 {
		t.Errorf("expected active sessions back at 0")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

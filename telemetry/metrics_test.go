package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // idempotent

	if ResolvesTotal == nil || ResolveFailures == nil || PollCycles == nil {
		t.Error("resolve counters not initialized")
	}
	if CapturesStarted == nil || CapturesFailed == nil || CapturesStopped == nil {
		t.Error("capture counters not initialized")
	}
	if ResolveDuration == nil || CaptureDuration == nil {
		t.Error("histograms not initialized")
	}
	if ActiveCaptures == nil || MonitoredRooms == nil || LiveRooms == nil {
		t.Error("gauges not initialized")
	}
}

func TestObserveResolve(t *testing.T) {
	Init()

	c := ResolvesTotal.WithLabelValues("embedded", "live")
	before := counterValue(t, c)
	ObserveResolve("embedded", "live")
	if got := counterValue(t, c); got != before+1 {
		t.Errorf("resolves{embedded,live} = %v, want %v", got, before+1)
	}
}

func TestCaptureLifecycleGauge(t *testing.T) {
	Init()

	before := gaugeValue(t, ActiveCaptures)
	CaptureStarted()
	CaptureStarted()
	if got := gaugeValue(t, ActiveCaptures); got != before+2 {
		t.Errorf("active captures = %v, want %v", got, before+2)
	}
	CaptureEnded("stopped", time.Minute)
	CaptureEnded("exited", time.Second)
	if got := gaugeValue(t, ActiveCaptures); got != before {
		t.Errorf("active captures = %v, want %v", got, before)
	}
}

func TestAddCookieRecordsIgnoresZero(t *testing.T) {
	Init()

	c := CookieRecords.WithLabelValues("failed")
	before := counterValue(t, c)
	AddCookieRecords("failed", 0)
	AddCookieRecords("failed", 3)
	if got := counterValue(t, c); got != before+3 {
		t.Errorf("cookie records{failed} = %v, want %v", got, before+3)
	}
}

func TestRoomGauges(t *testing.T) {
	Init()

	SetMonitoredRooms(4)
	SetLiveRooms(1)
	if got := gaugeValue(t, MonitoredRooms); got != 4 {
		t.Errorf("monitored rooms = %v, want 4", got)
	}
	if got := gaugeValue(t, LiveRooms); got != 1 {
		t.Errorf("live rooms = %v, want 1", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation() = %q, want empty", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation() = %q, want %q", got, "abc-123")
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr() returned nil")
	}
}

func TestTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("liverec-test", "dev")
	if err != nil {
		t.Fatalf("InitTracing() unexpected error = %v", err)
	}
	shutdown()

	// Spans still work against the global no-op provider.
	_, span := StartSpan(WithCorrelation(context.Background(), "c1"), "test", "op", RoomAttr("123"))
	SetSpanHTTPStatus(span, 200)
	SetSpanSuccess(span)
	span.End()

	_, failed := StartSpan(context.Background(), "test", "op")
	SetSpanHTTPStatus(failed, 503)
	RecordError(failed, nil)
	failed.End()
}

func TestTracingConfigFromEnv(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		want   TracingConfig
		wantOn bool
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: TracingConfig{Insecure: true, ServiceName: "live-recorder", SampleRatio: 1},
		},
		{
			name:   "endpoint and ratio",
			env:    map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "otel:4317", "OTEL_TRACES_SAMPLER_ARG": "0.25"},
			want:   TracingConfig{Endpoint: "otel:4317", Insecure: true, ServiceName: "live-recorder", SampleRatio: 0.25},
			wantOn: true,
		},
		{
			name: "ratio out of range",
			env:  map[string]string{"OTEL_TRACES_SAMPLER_ARG": "2"},
			want: TracingConfig{Insecure: true, ServiceName: "live-recorder", SampleRatio: 1},
		},
		{
			name: "ratio not a number",
			env:  map[string]string{"OTEL_TRACES_SAMPLER_ARG": "nope"},
			want: TracingConfig{Insecure: true, ServiceName: "live-recorder", SampleRatio: 1},
		},
		{
			name: "service name and tls",
			env:  map[string]string{"OTEL_SERVICE_NAME": "rec-eu", "OTEL_EXPORTER_OTLP_INSECURE": "false"},
			want: TracingConfig{Insecure: false, ServiceName: "rec-eu", SampleRatio: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SERVICE_NAME", "OTEL_TRACES_SAMPLER_ARG"} {
				t.Setenv(k, tt.env[k])
			}
			got := TracingConfigFromEnv("live-recorder")
			if got != tt.want {
				t.Errorf("TracingConfigFromEnv() = %+v, want %+v", got, tt.want)
			}
			if got.Enabled() != tt.wantOn {
				t.Errorf("Enabled() = %v, want %v", got.Enabled(), tt.wantOn)
			}
		})
	}
}

func TestHTTPRequestAttrs(t *testing.T) {
	r := httptest.NewRequest(http.MethodDelete, "/rooms/123?x=1", nil)
	attrs := HTTPRequestAttrs(r, "/rooms/{id}")
	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["http.method"] != "DELETE" || got["http.route"] != "/rooms/{id}" || got["http.url"] != "/rooms/123?x=1" {
		t.Errorf("HTTPRequestAttrs() = %v", got)
	}
}

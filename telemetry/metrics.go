// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ResolvesTotal    *prometheus.CounterVec // labels: strategy, outcome
	ResolveFailures  *prometheus.CounterVec // labels: class
	PollCycles       prometheus.Counter
	CapturesStarted  prometheus.Counter
	CapturesFailed   prometheus.Counter
	CapturesStopped  *prometheus.CounterVec // labels: reason
	CookieRecords    *prometheus.CounterVec // labels: result
	HTTPRequestsRate *prometheus.CounterVec // labels: method, route, status

	// Histograms (seconds)
	ResolveDuration prometheus.Observer
	CaptureDuration prometheus.Observer

	// Gauges
	ActiveCaptures prometheus.Gauge
	MonitoredRooms prometheus.Gauge
	LiveRooms      prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ResolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "liverec_resolves_total", Help: "Stream resolutions by winning strategy and outcome"}, []string{"strategy", "outcome"})
		ResolveFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "liverec_resolve_failures_total", Help: "Failed resolutions by classified cause"}, []string{"class"})
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "liverec_poll_cycles_total", Help: "Number of room poll cycles"})
		CapturesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "liverec_captures_started_total", Help: "Number of capture processes launched"})
		CapturesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "liverec_captures_failed_total", Help: "Number of capture launches that failed"})
		CapturesStopped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "liverec_captures_stopped_total", Help: "Number of capture sessions ended by reason"}, []string{"reason"})
		CookieRecords = promauto.NewCounterVec(prometheus.CounterOpts{Name: "liverec_cookie_records_total", Help: "Cookie records processed by result"}, []string{"result"})
		HTTPRequestsRate = promauto.NewCounterVec(prometheus.CounterOpts{Name: "liverec_http_requests_total", Help: "API requests by method, route and status"}, []string{"method", "route", "status"})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "liverec_resolve_duration_seconds", Help: "Duration of one full resolve (all strategies tried)", Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40}})
		CaptureDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "liverec_capture_duration_seconds", Help: "Wall-clock length of finished capture sessions", Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400}})
		ActiveCaptures = promauto.NewGauge(prometheus.GaugeOpts{Name: "liverec_active_captures", Help: "Capture processes currently running"})
		MonitoredRooms = promauto.NewGauge(prometheus.GaugeOpts{Name: "liverec_monitored_rooms", Help: "Rooms currently registered with the orchestrator"})
		LiveRooms = promauto.NewGauge(prometheus.GaugeOpts{Name: "liverec_live_rooms", Help: "Rooms whose last poll reported live"})
	})
}

// ObserveResolve counts one resolve outcome. Safe before Init. The duration
// histogram is fed by TimeFunc around the resolve itself.
func ObserveResolve(strategy, outcome string) {
	if ResolvesTotal != nil {
		ResolvesTotal.WithLabelValues(strategy, outcome).Inc()
	}
}

// IncResolveFailure counts a failed resolve under its classified cause.
func IncResolveFailure(class string) {
	if ResolveFailures != nil {
		ResolveFailures.WithLabelValues(class).Inc()
	}
}

// IncPollCycle counts one room poll cycle.
func IncPollCycle() {
	if PollCycles != nil {
		PollCycles.Inc()
	}
}

// CaptureStarted records a successful launch.
func CaptureStarted() {
	if CapturesStarted != nil {
		CapturesStarted.Inc()
	}
	if ActiveCaptures != nil {
		ActiveCaptures.Inc()
	}
}

// CaptureLaunchFailed records a launch that never produced a process.
func CaptureLaunchFailed() {
	if CapturesFailed != nil {
		CapturesFailed.Inc()
	}
}

// CaptureEnded records a capture that stopped for reason after running d.
func CaptureEnded(reason string, d time.Duration) {
	if CapturesStopped != nil {
		CapturesStopped.WithLabelValues(reason).Inc()
	}
	if ActiveCaptures != nil {
		ActiveCaptures.Dec()
	}
	if CaptureDuration != nil {
		CaptureDuration.Observe(d.Seconds())
	}
}

// AddCookieRecords adds n records under result (plaintext, decrypted, failed).
func AddCookieRecords(result string, n int) {
	if CookieRecords != nil && n > 0 {
		CookieRecords.WithLabelValues(result).Add(float64(n))
	}
}

// SetMonitoredRooms records the orchestrator's room count.
func SetMonitoredRooms(n int) {
	if MonitoredRooms != nil {
		MonitoredRooms.Set(float64(n))
	}
}

// SetLiveRooms records how many rooms were live at their last poll.
func SetLiveRooms(n int) {
	if LiveRooms != nil {
		LiveRooms.Set(float64(n))
	}
}

// ObserveHTTPRequest counts one API request.
func ObserveHTTPRequest(method, route string, status int) {
	if HTTPRequestsRate != nil {
		HTTPRequestsRate.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

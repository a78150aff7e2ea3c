// Package server exposes the recorder's HTTP API: room management, a live
// event stream of room snapshots, status, health and metrics. Mutating routes
// sit behind admin auth and a per-IP rate limit; every request carries a
// correlation id and a tracing span.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/live-recorder/capture"
	"github.com/onnwee/live-recorder/cookies"
	"github.com/onnwee/live-recorder/monitor"
	"github.com/onnwee/live-recorder/telemetry"
)

// Monitor is the room orchestrator as seen by the HTTP layer.
type Monitor interface {
	List() []monitor.Snapshot
	Get(id string) (monitor.Snapshot, bool)
	Add(input, displayName string) (monitor.Snapshot, error)
	Remove(id string) error
	StartAll(ctx context.Context)
	StopAll() error
	Running() bool
	Subscribe(buffer int) (<-chan monitor.Snapshot, func())
	Preview(ctx context.Context, id string) error
}

// Captures reports running capture sessions.
type Captures interface {
	Active() []capture.Handle
	Limit() (capacity, inUse int)
}

// Options wires the server to the rest of the process.
type Options struct {
	Monitor  Monitor
	Captures Captures
	// Identity is the logged-in account nickname, empty when unknown.
	Identity     string
	CookieReport cookies.Report
	StartedAt    time.Time
	// KeepAlive is the SSE comment interval; zero means 15s.
	KeepAlive time.Duration
}

// NewMux returns the HTTP handler with all routes. ctx bounds background work
// (rate limiter janitor, monitoring started through /admin/start).
func NewMux(ctx context.Context, opts Options) http.Handler {
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()

	h := NewHandlers(ctx, opts)
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)

	mux.HandleFunc("GET /rooms", h.HandleRoomsList)
	mux.HandleFunc("POST /rooms", h.HandleRoomsAdd)
	mux.HandleFunc("GET /rooms/{id}", h.HandleRoomGet)
	mux.HandleFunc("DELETE /rooms/{id}", h.HandleRoomRemove)
	mux.HandleFunc("POST /rooms/{id}/preview", h.HandleRoomPreview)
	mux.HandleFunc("GET /events", h.HandleEvents)

	mux.HandleFunc("POST /admin/start", h.HandleAdminStart)
	mux.HandleFunc("POST /admin/stop", h.HandleAdminStop)

	protected := adminAuth(rateLimitMiddleware(mux, limiter), authCfg)
	selective := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if needsAdmin(r) {
			protected.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.NewString()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		route := routeLabel(r.URL.Path)
		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+route, telemetry.HTTPRequestAttrs(r, route)...)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selective.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		telemetry.ObserveHTTPRequest(r.Method, route, rec.statusCode)
	})
	return withCORSConfig(handler, corsCfg)
}

// needsAdmin reports whether a request mutates state.
func needsAdmin(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/admin/") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/rooms") {
		return r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions
	}
	return false
}

// routeLabel collapses room ids so metric cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "rooms" {
		parts[1] = "{id}"
	}
	switch parts[0] {
	case "rooms", "admin", "events", "status", "healthz", "readyz", "metrics":
		return "/" + strings.Join(parts, "/")
	}
	return "other"
}

// statusRecorder wraps ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush lets the SSE handler stream through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, opts Options) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     NewMux(ctx, opts),
		ReadTimeout: 5 * time.Second,
		// no WriteTimeout: /events streams indefinitely
		IdleTimeout: 60 * time.Second,
		// request contexts end with ctx so open event streams release on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("component", "http"), slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

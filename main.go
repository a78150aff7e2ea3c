// Command live-recorder watches live rooms and records them with ffmpeg.
// It:
//   - Loads configuration and initializes structured logging.
//   - Takes a lock in DATA_DIR so only one recorder writes to the output dir.
//   - Harvests session cookies from the local browser profile and checks the
//     logged-in identity.
//   - Polls every configured room and captures streams while they are live.
//   - Exposes an HTTP API with room management, an event stream, /status,
//     /healthz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: running captures are asked to quit
// so their files are finalized.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-recorder/app"
	"github.com/onnwee/live-recorder/capture"
	"github.com/onnwee/live-recorder/config"
	"github.com/onnwee/live-recorder/douyinapi"
	"github.com/onnwee/live-recorder/monitor"
	"github.com/onnwee/live-recorder/server"
	"github.com/onnwee/live-recorder/stream"
	"github.com/onnwee/live-recorder/telemetry"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only)
	_ = godotenv.Load(".env")

	app.SetupLogging(os.Stdout)
	slog.Info("logger initialized", slog.String("version", version))

	if err := run(); err != nil {
		slog.Error("live-recorder exited", slog.Any("err", err))
		os.Exit(1)
	}
}

// run owns every deferred cleanup so it completes before main exits.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	telemetry.Init()

	// Optional; requires OTEL_EXPORTER_OTLP_ENDPOINT
	shutdownTracing, err := telemetry.InitTracing("live-recorder", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdownTracing()

	lock, err := app.AcquireLock(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("cannot start with data dir %s: %w", cfg.DataDir, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("failed to release lock", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, report, err := app.LoadCredentials(ctx, cfg)
	if err != nil {
		return fmt.Errorf("browser credentials unavailable: %w", err)
	}

	client, err := app.NewClient(cfg, store)
	if err != nil {
		return fmt.Errorf("platform client setup failed: %w", err)
	}

	warmCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	if err := client.Warmup(warmCtx); err != nil {
		slog.Warn("warm-up incomplete, ttwid may be stale", slog.Any("err", err), slog.String("component", "douyinapi"))
	}
	cancel()

	identity := ""
	meCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	me, err := client.Me(meCtx)
	cancel()
	switch {
	case errors.Is(err, douyinapi.ErrAuthenticationStale):
		slog.Warn("session rejected, log in again in the browser; continuing anonymously", slog.Any("err", err), slog.String("component", "douyinapi"))
	case err != nil:
		slog.Warn("identity check failed", slog.Any("err", err), slog.String("component", "douyinapi"))
	default:
		identity = me.Nickname
		slog.Info("logged in", slog.String("nickname", identity), slog.String("component", "douyinapi"))
	}

	supervisor := capture.NewSupervisor(
		capture.WithBinaries(cfg.FFmpegPath, cfg.FFplayPath),
		capture.WithStopTimeout(cfg.CaptureStopTimeout),
		capture.WithHeaders(app.CaptureHeaders(client, store)),
		capture.WithMaxConcurrent(cfg.MaxConcurrentCaptures),
	)

	orch := monitor.NewOrchestrator(stream.NewResolver(client), supervisor, monitor.Options{
		OutputDir:    cfg.OutputDir,
		PollInterval: cfg.PollInterval,
		Backoff:      monitor.BackoffPolicy{Threshold: cfg.BackoffThreshold, Max: cfg.BackoffMax},
		Previewer:    supervisor,
	})
	for _, r := range cfg.Rooms {
		if _, err := orch.Add(r.Input, r.Name); err != nil {
			slog.Warn("skipping configured room", slog.String("input", r.Input), slog.Any("err", err))
		}
	}
	slog.Info("rooms configured", slog.Int("count", len(orch.List())), slog.Bool("auto_start", cfg.AutoStart))
	if cfg.AutoStart {
		orch.StartAll(ctx)
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	go func() {
		err := server.Start(ctx, cfg.HTTPAddr, server.Options{
			Monitor:      orch,
			Captures:     supervisor,
			Identity:     identity,
			CookieReport: report,
		})
		if err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	if err := orch.StopAll(); err != nil {
		return fmt.Errorf("stopping captures: %w", err)
	}
	return nil
}

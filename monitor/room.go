package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/live-recorder/capture"
	"github.com/onnwee/live-recorder/stream"
	"github.com/onnwee/live-recorder/telemetry"
)

// Resolver answers whether a room is live and where its stream is.
type Resolver interface {
	Resolve(ctx context.Context, roomID string) stream.Info
}

// Capturer starts and stops recordings.
type Capturer interface {
	Start(ctx context.Context, roomID, url, outputPath string) (*capture.Handle, error)
	Stop(h *capture.Handle) error
	Status(h *capture.Handle) capture.Status
}

// Phase is the user-visible monitoring state of a room.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseChecking Phase = "checking"
	PhaseLive     Phase = "live"
	PhaseOffline  Phase = "offline"
)

// Snapshot is a copy of a room's state published after each change.
type Snapshot struct {
	RoomID              string    `json:"room_id"`
	DisplayName         string    `json:"display_name"`
	Title               string    `json:"title"`
	Phase               Phase     `json:"phase"`
	StatusText          string    `json:"status_text"`
	StatusColor         string    `json:"status_color"`
	Recording           bool      `json:"recording"`
	StreamURL           string    `json:"stream_url,omitempty"`
	OutputPath          string    `json:"output_path,omitempty"`
	Diagnostic          string    `json:"diagnostic,omitempty"`
	Strategy            string    `json:"strategy,omitempty"`
	LaunchFailed        bool      `json:"launch_failed"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CheckedAt           time.Time `json:"checked_at,omitzero"`
}

func statusFor(p Phase) (text, color string) {
	switch p {
	case PhaseLive:
		return "live", "green"
	case PhaseOffline:
		return "offline", "red"
	case PhaseChecking:
		return "checking", "gray"
	default:
		return "idle", "gray"
	}
}

type roomDeps struct {
	resolver  Resolver
	capturer  Capturer
	outputDir string
	interval  time.Duration
	backoff   BackoffPolicy
	now       func() time.Time
	publish   func(Snapshot)
}

// Room monitors one live room. Run drives it from a single goroutine; the
// snapshot accessors are safe to call from anywhere.
type Room struct {
	id   string
	deps roomDeps

	mu          sync.Mutex
	displayName string
	title       string
	phase       Phase
	recording   bool
	active      *capture.Handle
	outputPath  string
	launchLatch bool
	streamURL   string
	diagnostic  string
	strategy    stream.Strategy
	failures    int
	checkedAt   time.Time
}

func newRoom(id, displayName string, deps roomDeps) *Room {
	if displayName == "" {
		displayName = id
	}
	if deps.now == nil {
		deps.now = time.Now
	}
	if deps.publish == nil {
		deps.publish = func(Snapshot) {}
	}
	return &Room{id: id, displayName: displayName, phase: PhaseIdle, deps: deps}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Snapshot returns a copy of the current state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() Snapshot {
	text, color := statusFor(r.phase)
	return Snapshot{
		RoomID:              r.id,
		DisplayName:         r.displayName,
		Title:               r.title,
		Phase:               r.phase,
		StatusText:          text,
		StatusColor:         color,
		Recording:           r.recording,
		StreamURL:           r.streamURL,
		OutputPath:          r.outputPath,
		Diagnostic:          r.diagnostic,
		Strategy:            string(r.strategy),
		LaunchFailed:        r.launchLatch,
		ConsecutiveFailures: r.failures,
		CheckedAt:           r.checkedAt,
	}
}

// Run polls until ctx is cancelled. Cancellation is observed between cycles
// only: a resolve in flight always completes and its result is applied.
func (r *Room) Run(ctx context.Context) {
	logger := slog.Default().With(slog.String("component", "monitor"), slog.String("room_id", r.id))
	logger.Info("room monitor started", slog.Duration("interval", r.deps.interval))
	for {
		r.cycle(ctx, logger)

		r.mu.Lock()
		delay := r.deps.backoff.Delay(r.deps.interval, r.failures)
		r.mu.Unlock()
		if delay != r.deps.interval {
			logger.Debug("backing off", slog.Duration("delay", delay))
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Info("room monitor stopped")
			r.mu.Lock()
			if !r.recording {
				r.phase = PhaseIdle
			}
			snap := r.snapshotLocked()
			r.mu.Unlock()
			r.deps.publish(snap)
			return
		case <-t.C:
		}
	}
}

func (r *Room) cycle(ctx context.Context, logger *slog.Logger) {
	detached := context.WithoutCancel(ctx)

	r.mu.Lock()
	r.phase = PhaseChecking
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.deps.publish(snap)

	info := r.deps.resolver.Resolve(detached, r.id)
	r.apply(detached, info, logger)
}

// apply folds one resolve result into the room state and starts or stops the
// capture accordingly. Only the Run goroutine calls it.
func (r *Room) apply(ctx context.Context, info stream.Info, logger *slog.Logger) {
	telemetry.IncPollCycle()

	r.mu.Lock()
	r.checkedAt = r.deps.now()
	r.title = info.Title
	if info.OwnerName != "" {
		r.displayName = info.OwnerName
	}
	r.strategy = info.Strategy
	r.diagnostic = info.Diagnostic
	if info.Failed() {
		r.failures++
	} else {
		r.failures = 0
	}

	var (
		toStop  *capture.Handle
		toStart bool
		outPath string
	)
	if info.IsLive {
		r.phase = PhaseLive
		r.streamURL = info.StreamURL
		switch {
		case r.recording:
			if st := r.deps.capturer.Status(r.active); st.Exited {
				logger.Warn("capture process exited while room is live", slog.String("output", r.outputPath), slog.Int("exit_code", st.ExitCode), slog.Any("err", st.Err))
				if st.ExitCode != 0 {
					r.diagnostic = fmt.Sprintf("capture exited with code %d", st.ExitCode)
				}
				toStop = r.active
				r.recording = false
				r.active = nil
			}
		case !r.launchLatch:
			toStart = true
			outPath = capture.OutputPath(r.deps.outputDir, r.displayName, r.checkedAt)
		}
	} else {
		r.phase = PhaseOffline
		r.streamURL = ""
		toStop = r.active
		r.recording = false
		r.active = nil
		r.launchLatch = false
	}
	display := r.displayName
	r.mu.Unlock()

	if info.Failed() {
		class := ClassifyFailure(info)
		telemetry.IncResolveFailure(class.String())
		logger.Warn("resolve failed", slog.String("class", class.String()), slog.String("failure", info.Failure.String()), slog.String("diagnostic", info.Diagnostic))
	}

	if toStop != nil {
		logger.Info("releasing capture", slog.String("session_id", toStop.ID), slog.Bool("live", info.IsLive))
		if err := r.deps.capturer.Stop(toStop); err != nil {
			logger.Error("stop capture failed", slog.Any("err", err))
		}
	}

	if toStart {
		h, err := r.deps.capturer.Start(ctx, r.id, info.StreamURL, outPath)
		r.mu.Lock()
		if err != nil {
			r.launchLatch = true
			r.diagnostic = err.Error()
			if errors.Is(err, capture.ErrCaptureLimit) {
				logger.Warn("capture limit reached, not recording", slog.String("display_name", display))
			} else {
				logger.Error("capture launch failed", slog.String("display_name", display), slog.Any("err", err))
			}
		} else {
			r.recording = true
			r.active = h
			r.outputPath = h.OutputPath
			logger.Info("recording started", slog.String("session_id", h.ID), slog.String("output", h.OutputPath))
		}
		r.mu.Unlock()
	}

	r.deps.publish(r.Snapshot())
}

// shutdown stops the active capture, if any. Call only after Run has returned.
func (r *Room) shutdown() error {
	r.mu.Lock()
	h := r.active
	r.active = nil
	r.recording = false
	r.phase = PhaseIdle
	r.mu.Unlock()
	if h == nil {
		return nil
	}
	return r.deps.capturer.Stop(h)
}

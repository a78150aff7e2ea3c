// Package capture supervises external ffmpeg processes that copy a live stream
// to disk, plus detached ffplay preview windows.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/live-recorder/telemetry"
)

var (
	// ErrLaunchFailed means the capture process could not be started. The
	// caller retries only on the next live transition.
	ErrLaunchFailed = errors.New("capture launch failed")

	// ErrCaptureLimit means MAX_CONCURRENT_CAPTURES processes are already running.
	ErrCaptureLimit = errors.New("capture limit reached")
)

// DefaultStopTimeout is how long Stop waits after asking ffmpeg to quit.
const DefaultStopTimeout = 10 * time.Second

// Handle identifies one capture session.
type Handle struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	URL        string    `json:"-"`
	OutputPath string    `json:"output_path"`
	StartedAt  time.Time `json:"started_at"`
}

// Status is a point-in-time view of a session.
type Status struct {
	Running  bool  `json:"running"`
	Exited   bool  `json:"exited"`
	ExitCode int   `json:"exit_code"`
	Err      error `json:"-"`
}

type session struct {
	handle Handle
	proc   Process
	done   chan struct{}
	log    *os.File

	mu       sync.Mutex
	status   Status
	stopping bool
}

// Supervisor starts and stops capture processes. Safe for concurrent use.
type Supervisor struct {
	launcher    Launcher
	ffmpegPath  string
	ffplayPath  string
	stopTimeout time.Duration
	headers     RequestHeaders
	slots       slots

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher overrides the process launcher (tests).
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.launcher = l
		}
	}
}

// WithBinaries sets the ffmpeg and ffplay executables.
func WithBinaries(ffmpeg, ffplay string) Option {
	return func(s *Supervisor) {
		if ffmpeg != "" {
			s.ffmpegPath = ffmpeg
		}
		if ffplay != "" {
			s.ffplayPath = ffplay
		}
	}
}

// WithStopTimeout sets how long Stop waits before killing.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithHeaders sets the request headers passed to ffmpeg and ffplay.
func WithHeaders(h RequestHeaders) Option {
	return func(s *Supervisor) { s.headers = h }
}

// WithMaxConcurrent caps running captures. Zero means unlimited.
func WithMaxConcurrent(n int) Option {
	return func(s *Supervisor) { s.slots = newSlots(n) }
}

// NewSupervisor builds a Supervisor using ffmpeg/ffplay from PATH by default.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		launcher:    ExecLauncher{},
		ffmpegPath:  "ffmpeg",
		ffplayPath:  "ffplay",
		stopTimeout: DefaultStopTimeout,
		sessions:    make(map[string]*session),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches ffmpeg copying url into outputPath. stderr goes to
// outputPath + ".ffmpeg.log". There is no retry: a failed launch wraps
// ErrLaunchFailed.
func (s *Supervisor) Start(ctx context.Context, roomID, url, outputPath string) (*Handle, error) {
	logger := slog.Default().With(slog.String("component", "capture"), slog.String("room_id", roomID))

	if !s.slots.tryAcquire() {
		telemetry.CaptureLaunchFailed()
		return nil, fmt.Errorf("%w (%d running)", ErrCaptureLimit, s.slots.inUse())
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		s.slots.release()
		telemetry.CaptureLaunchFailed()
		return nil, fmt.Errorf("%w: create output dir: %v", ErrLaunchFailed, err)
	}
	logFile, err := os.OpenFile(outputPath+".ffmpeg.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.slots.release()
		telemetry.CaptureLaunchFailed()
		return nil, fmt.Errorf("%w: open log: %v", ErrLaunchFailed, err)
	}

	proc, err := s.launcher.Launch(ctx, s.ffmpegPath, FFmpegArgs(url, outputPath, s.headers), logFile)
	if err != nil {
		_ = logFile.Close()
		s.slots.release()
		telemetry.CaptureLaunchFailed()
		logger.Error("capture launch failed", slog.String("ffmpeg", s.ffmpegPath), slog.Any("err", err))
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	sess := &session{
		handle: Handle{
			ID:         uuid.NewString(),
			RoomID:     roomID,
			URL:        url,
			OutputPath: outputPath,
			StartedAt:  time.Now(),
		},
		proc:   proc,
		done:   make(chan struct{}),
		log:    logFile,
		status: Status{Running: true},
	}
	s.mu.Lock()
	s.sessions[sess.handle.ID] = sess
	s.mu.Unlock()

	telemetry.CaptureStarted()
	logger.Info("capture started", slog.String("session_id", sess.handle.ID), slog.String("output", outputPath), slog.Int("pid", proc.Pid()))

	go s.wait(sess, logger)

	h := sess.handle
	return &h, nil
}

// wait reaps the process and records how it ended.
func (s *Supervisor) wait(sess *session, logger *slog.Logger) {
	err := sess.proc.Wait()

	sess.mu.Lock()
	sess.status.Running = false
	sess.status.Exited = true
	sess.status.Err = err
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		sess.status.ExitCode = 0
	case errors.As(err, &exitErr):
		sess.status.ExitCode = exitErr.ExitCode()
	default:
		sess.status.ExitCode = -1
	}
	reason := "exited"
	if sess.stopping {
		reason = "stopped"
	}
	code := sess.status.ExitCode
	sess.mu.Unlock()

	if cerr := sess.log.Close(); cerr != nil {
		logger.Warn("failed to close ffmpeg log", slog.Any("err", cerr))
	}
	s.slots.release()
	telemetry.CaptureEnded(reason, time.Since(sess.handle.StartedAt))
	logger.Info("capture ended", slog.String("session_id", sess.handle.ID), slog.String("reason", reason), slog.Int("exit_code", code))

	close(sess.done)
}

func (s *Supervisor) forget(h *Handle) {
	s.mu.Lock()
	delete(s.sessions, h.ID)
	s.mu.Unlock()
}

func (s *Supervisor) lookup(h *Handle) *session {
	if h == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[h.ID]
}

// Stop asks ffmpeg to finish the file, waits up to the stop timeout, then
// kills it. The session is forgotten afterwards. Stopping a session whose
// process already exited only forgets it.
func (s *Supervisor) Stop(h *Handle) error {
	sess := s.lookup(h)
	if sess == nil {
		return nil
	}
	defer s.forget(h)
	select {
	case <-sess.done:
		return nil
	default:
	}
	sess.mu.Lock()
	sess.stopping = true
	sess.mu.Unlock()

	logger := slog.Default().With(slog.String("component", "capture"), slog.String("room_id", h.RoomID), slog.String("session_id", h.ID))
	if err := sess.proc.Quit(); err != nil {
		logger.Debug("quit request failed", slog.Any("err", err))
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-sess.done:
		return nil
	case <-timer.C:
	}

	logger.Warn("capture did not exit after quit, killing", slog.Duration("timeout", s.stopTimeout))
	if err := sess.proc.Kill(); err != nil {
		return fmt.Errorf("kill capture %s: %w", h.ID, err)
	}
	<-sess.done
	return nil
}

// Status reports the session state. A session that exited on its own keeps
// its final status, exit code included, until Stop is called. Unknown or
// stopped handles report Exited.
func (s *Supervisor) Status(h *Handle) Status {
	sess := s.lookup(h)
	if sess == nil {
		return Status{Exited: true}
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.status
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done returns a channel closed when the session's process has exited.
func (s *Supervisor) Done(h *Handle) <-chan struct{} {
	sess := s.lookup(h)
	if sess == nil {
		return closedChan
	}
	return sess.done
}

// Active lists running sessions ordered by start time.
func (s *Supervisor) Active() []Handle {
	s.mu.Lock()
	out := make([]Handle, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sess.mu.Lock()
		running := sess.status.Running
		sess.mu.Unlock()
		if running {
			out = append(out, sess.handle)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Limit returns the configured concurrency cap (0 = unlimited) and slots in use.
func (s *Supervisor) Limit() (capacity, inUse int) {
	return s.slots.capacity(), s.slots.inUse()
}

// Preview opens a detached ffplay window on url. The window is not tracked;
// closing it has no effect on capture.
func (s *Supervisor) Preview(ctx context.Context, url, title string) error {
	proc, err := s.launcher.Launch(ctx, s.ffplayPath, FFplayArgs(url, title, s.headers), nil)
	if err != nil {
		return fmt.Errorf("%w: ffplay: %v", ErrLaunchFailed, err)
	}
	go func() { _ = proc.Wait() }()
	return nil
}

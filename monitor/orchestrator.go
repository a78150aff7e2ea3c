// Package monitor runs one polling goroutine per live room and turns resolve
// answers into capture start/stop decisions.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/live-recorder/telemetry"
)

var (
	ErrEmptyRoomID  = errors.New("room id is empty")
	ErrRoomExists   = errors.New("room already monitored")
	ErrRoomNotFound = errors.New("room not found")
	ErrNotLive      = errors.New("room is not live")
)

// DefaultPollInterval is the sleep between resolves of one room.
const DefaultPollInterval = 15 * time.Second

// Previewer opens a viewer window on a stream.
type Previewer interface {
	Preview(ctx context.Context, url, title string) error
}

// Options configures an Orchestrator.
type Options struct {
	OutputDir    string
	PollInterval time.Duration
	Backoff      BackoffPolicy
	Previewer    Previewer
	// Now overrides the clock used for output file names (tests).
	Now func() time.Time
}

// entry tracks one room's goroutine. While a stop drains the current cycle
// and tears down the capture, stopped is non-nil and is closed when that
// work has finished; nothing may restart or remove the room before then.
type entry struct {
	room     *Room
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  chan struct{}
	removing bool
}

func (e *entry) running() bool { return e.cancel != nil }

// detach takes the goroutine's cancel and done and marks the entry as
// stopping. The caller must call finish(stopped) once teardown is complete.
func (e *entry) detach() (cancel context.CancelFunc, done, stopped chan struct{}) {
	cancel, done = e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.stopped = make(chan struct{})
	return cancel, done, e.stopped
}

// Orchestrator owns the set of monitored rooms.
type Orchestrator struct {
	resolver Resolver
	capturer Capturer
	opts     Options

	mu      sync.Mutex
	rooms   map[string]*entry
	order   []string
	started bool
	stops   int
	baseCtx context.Context

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
	live    map[string]bool
}

// NewOrchestrator creates an orchestrator with no rooms. Nothing polls until
// StartAll is called.
func NewOrchestrator(resolver Resolver, capturer Capturer, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "Downloads"
	}
	return &Orchestrator{
		resolver: resolver,
		capturer: capturer,
		opts:     opts,
		rooms:    make(map[string]*entry),
		subs:     make(map[int]chan Snapshot),
		live:     make(map[string]bool),
	}
}

// Add registers a room from a pasted URL or bare id. When the orchestrator is
// running the room starts polling immediately.
func (o *Orchestrator) Add(input, displayName string) (Snapshot, error) {
	id := ExtractRoomID(input)
	if id == "" {
		return Snapshot{}, ErrEmptyRoomID
	}

	o.mu.Lock()
	if _, ok := o.rooms[id]; ok {
		o.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRoomExists, id)
	}
	r := newRoom(id, displayName, roomDeps{
		resolver:  o.resolver,
		capturer:  o.capturer,
		outputDir: o.opts.OutputDir,
		interval:  o.opts.PollInterval,
		backoff:   o.opts.Backoff,
		now:       o.opts.Now,
		publish:   o.publish,
	})
	e := &entry{room: r}
	o.rooms[id] = e
	o.order = append(o.order, id)
	if o.started {
		o.startLocked(e)
	}
	n := len(o.rooms)
	o.mu.Unlock()

	telemetry.SetMonitoredRooms(n)
	snap := r.Snapshot()
	slog.Info("room added", slog.String("component", "monitor"), slog.String("room_id", id), slog.String("display_name", snap.DisplayName))
	o.publish(snap)
	return snap, nil
}

// Remove stops polling a room, stops its capture and only then forgets it.
// A stop already in progress for the room is waited on first.
func (o *Orchestrator) Remove(id string) error {
	o.mu.Lock()
	e, ok := o.rooms[id]
	if !ok || e.removing {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	e.removing = true
	pending := e.stopped
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	o.mu.Unlock()

	if pending != nil {
		<-pending
	}
	if cancel != nil {
		cancel()
		<-done
	}
	err := e.room.shutdown()

	o.mu.Lock()
	delete(o.rooms, id)
	for i, rid := range o.order {
		if rid == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	n := len(o.rooms)
	o.mu.Unlock()

	o.subMu.Lock()
	delete(o.live, id)
	o.subMu.Unlock()
	o.refreshLiveGauge()
	telemetry.SetMonitoredRooms(n)
	slog.Info("room removed", slog.String("component", "monitor"), slog.String("room_id", id))
	if err != nil {
		return fmt.Errorf("stop capture for %s: %w", id, err)
	}
	return nil
}

// List returns snapshots of every room in insertion order.
func (o *Orchestrator) List() []Snapshot {
	o.mu.Lock()
	rooms := make([]*Room, 0, len(o.order))
	for _, id := range o.order {
		rooms = append(rooms, o.rooms[id].room)
	}
	o.mu.Unlock()

	out := make([]Snapshot, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Snapshot())
	}
	return out
}

// Get returns one room's snapshot.
func (o *Orchestrator) Get(id string) (Snapshot, bool) {
	o.mu.Lock()
	e, ok := o.rooms[id]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return e.room.Snapshot(), true
}

// Running reports whether StartAll is in effect.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

// StartAll starts a polling goroutine for every room that is not already
// running. Rooms still being stopped are started once their teardown ends.
// Rooms added later start on their own until StopAll.
func (o *Orchestrator) StartAll(ctx context.Context) {
	o.mu.Lock()
	o.started = true
	o.baseCtx = ctx
	gen := o.stops
	var pending []chan struct{}
	for _, id := range o.order {
		e := o.rooms[id]
		switch {
		case e.running() || e.removing:
		case e.stopped != nil:
			pending = append(pending, e.stopped)
		default:
			o.startLocked(e)
		}
	}
	n := len(o.rooms)
	o.mu.Unlock()

	for _, ch := range pending {
		<-ch
	}
	if len(pending) > 0 {
		o.mu.Lock()
		if o.started && o.stops == gen {
			for _, id := range o.order {
				if e := o.rooms[id]; !e.running() && !e.removing && e.stopped == nil {
					o.startLocked(e)
				}
			}
		}
		o.mu.Unlock()
	}
	slog.Info("monitoring started", slog.String("component", "monitor"), slog.Int("rooms", n))
}

func (o *Orchestrator) startLocked(e *entry) {
	base := o.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	r := e.room
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
}

// StopAll cancels every room, waits for in-flight cycles to finish and stops
// every capture. Rooms stay registered.
func (o *Orchestrator) StopAll() error {
	o.mu.Lock()
	o.started = false
	o.stops++
	type stopping struct {
		entry   *entry
		cancel  context.CancelFunc
		done    chan struct{}
		stopped chan struct{}
	}
	var (
		list    []stopping
		pending []chan struct{}
	)
	for _, id := range o.order {
		e := o.rooms[id]
		switch {
		case e.removing:
		case e.stopped != nil:
			pending = append(pending, e.stopped)
		default:
			cancel, done, stopped := e.detach()
			list = append(list, stopping{entry: e, cancel: cancel, done: done, stopped: stopped})
		}
	}
	o.mu.Unlock()

	var g errgroup.Group
	for _, s := range list {
		g.Go(func() error {
			defer o.finish(s.entry, s.stopped)
			if s.cancel != nil {
				s.cancel()
				<-s.done
			}
			r := s.entry.room
			if err := r.shutdown(); err != nil {
				return fmt.Errorf("stop capture for %s: %w", r.ID(), err)
			}
			o.publish(r.Snapshot())
			return nil
		})
	}
	err := g.Wait()
	for _, ch := range pending {
		<-ch
	}
	slog.Info("monitoring stopped", slog.String("component", "monitor"), slog.Int("rooms", len(list)))
	return err
}

// finish ends a stop started by detach.
func (o *Orchestrator) finish(e *entry, stopped chan struct{}) {
	o.mu.Lock()
	if e.stopped == stopped {
		e.stopped = nil
	}
	o.mu.Unlock()
	close(stopped)
}

// Subscribe returns a channel of snapshots and a function that ends the
// subscription. Slow subscribers miss updates rather than block rooms.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Snapshot, buffer)
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subs, id)
			o.subMu.Unlock()
			close(ch)
		})
	}
}

func (o *Orchestrator) publish(s Snapshot) {
	o.subMu.Lock()
	o.live[s.RoomID] = s.Phase == PhaseLive
	for _, ch := range o.subs {
		select {
		case ch <- s:
		default:
		}
	}
	o.subMu.Unlock()
	o.refreshLiveGauge()
}

func (o *Orchestrator) refreshLiveGauge() {
	o.subMu.Lock()
	n := 0
	for _, live := range o.live {
		if live {
			n++
		}
	}
	o.subMu.Unlock()
	telemetry.SetLiveRooms(n)
}

// Preview opens a viewer on a live room's current stream.
func (o *Orchestrator) Preview(ctx context.Context, id string) error {
	snap, ok := o.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	if snap.StreamURL == "" {
		return fmt.Errorf("%w: %s", ErrNotLive, id)
	}
	if o.opts.Previewer == nil {
		return errors.New("preview not available")
	}
	return o.opts.Previewer.Preview(ctx, snap.StreamURL, snap.DisplayName)
}

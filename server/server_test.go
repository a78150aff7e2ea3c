package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/live-recorder/capture"
	"github.com/onnwee/live-recorder/cookies"
	"github.com/onnwee/live-recorder/monitor"
)

type fakeMonitor struct {
	mu       sync.Mutex
	rooms    []monitor.Snapshot
	running  bool
	stopErr  error
	previews []string
	subs     []chan monitor.Snapshot
}

func (f *fakeMonitor) List() []monitor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]monitor.Snapshot(nil), f.rooms...)
}

func (f *fakeMonitor) Get(id string) (monitor.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rooms {
		if s.RoomID == id {
			return s, true
		}
	}
	return monitor.Snapshot{}, false
}

func (f *fakeMonitor) Add(input, name string) (monitor.Snapshot, error) {
	id := monitor.ExtractRoomID(input)
	if id == "" {
		return monitor.Snapshot{}, monitor.ErrEmptyRoomID
	}
	if _, ok := f.Get(id); ok {
		return monitor.Snapshot{}, fmt.Errorf("%w: %s", monitor.ErrRoomExists, id)
	}
	if name == "" {
		name = id
	}
	s := monitor.Snapshot{RoomID: id, DisplayName: name, Phase: monitor.PhaseIdle}
	f.mu.Lock()
	f.rooms = append(f.rooms, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeMonitor) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.rooms {
		if s.RoomID == id {
			f.rooms = append(f.rooms[:i], f.rooms[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", monitor.ErrRoomNotFound, id)
}

func (f *fakeMonitor) StartAll(context.Context) {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
}

func (f *fakeMonitor) StopAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return f.stopErr
}

func (f *fakeMonitor) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeMonitor) Subscribe(buffer int) (<-chan monitor.Snapshot, func()) {
	ch := make(chan monitor.Snapshot, buffer)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeMonitor) publish(s monitor.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- s
	}
}

func (f *fakeMonitor) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeMonitor) Preview(_ context.Context, id string) error {
	s, ok := f.Get(id)
	if !ok {
		return monitor.ErrRoomNotFound
	}
	if s.StreamURL == "" {
		return monitor.ErrNotLive
	}
	f.mu.Lock()
	f.previews = append(f.previews, id)
	f.mu.Unlock()
	return nil
}

type fakeCaptures struct{}

func (fakeCaptures) Active() []capture.Handle {
	return []capture.Handle{{ID: "s1", RoomID: "11111111", OutputPath: "Downloads/a.mp4"}}
}
func (fakeCaptures) Limit() (int, int) { return 2, 1 }

func newTestMux(t *testing.T, mon *fakeMonitor) http.Handler {
	t.Helper()
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMux(ctx, Options{
		Monitor:      mon,
		Captures:     fakeCaptures{},
		Identity:     "viewer",
		CookieReport: cookies.Report{Total: 3, Decrypted: 3},
		KeepAlive:    20 * time.Millisecond,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzOK(t *testing.T) {
	rr := do(t, newTestMux(t, &fakeMonitor{}), http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected X-Correlation-ID header")
	}
}

func TestRoomsLifecycle(t *testing.T) {
	mon := &fakeMonitor{}
	h := newTestMux(t, mon)

	rr := do(t, h, http.MethodPost, "/rooms", `{"input":"https://live.douyin.com/123456789","name":"anchor"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /rooms: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var snap monitor.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.RoomID != "123456789" || snap.DisplayName != "anchor" {
		t.Errorf("created room = %+v", snap)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"duplicate", http.MethodPost, "/rooms", `{"input":"123456789"}`, http.StatusConflict},
		{"empty input", http.MethodPost, "/rooms", `{"input":"  "}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/rooms", `{"input":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/rooms", `{"room":"1"}`, http.StatusBadRequest},
		{"list", http.MethodGet, "/rooms", "", http.StatusOK},
		{"get", http.MethodGet, "/rooms/123456789", "", http.StatusOK},
		{"get missing", http.MethodGet, "/rooms/1", "", http.StatusNotFound},
		{"preview offline", http.MethodPost, "/rooms/123456789/preview", "", http.StatusConflict},
		{"preview missing", http.MethodPost, "/rooms/1/preview", "", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/rooms/123456789", "", http.StatusMethodNotAllowed},
		{"delete", http.MethodDelete, "/rooms/123456789", "", http.StatusOK},
		{"delete again", http.MethodDelete, "/rooms/123456789", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, h, tt.method, tt.path, tt.body); rr.Code != tt.want {
				t.Errorf("%s %s: expected %d, got %d body=%s", tt.method, tt.path, tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRoomPreviewLive(t *testing.T) {
	mon := &fakeMonitor{rooms: []monitor.Snapshot{{RoomID: "11111111", Phase: monitor.PhaseLive, StreamURL: "http://x/s.flv"}}}
	rr := do(t, newTestMux(t, mon), http.MethodPost, "/rooms/11111111/preview", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if len(mon.previews) != 1 {
		t.Errorf("previews = %v", mon.previews)
	}
}

func TestAdminRequiresAuth(t *testing.T) {
	mon := &fakeMonitor{}
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("ADMIN_TOKEN", "s3cret")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewMux(ctx, Options{Monitor: mon})

	if rr := do(t, h, http.MethodPost, "/admin/start", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /admin/start without token: expected 401, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/rooms", `{"input":"123456789"}`); rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /rooms without token: expected 401, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/rooms", ""); rr.Code != http.StatusOK {
		t.Errorf("GET /rooms: expected 200, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/start", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !mon.Running() {
		t.Errorf("POST /admin/start with token: got %d running=%v", rr.Code, mon.Running())
	}
}

func TestAdminStartStop(t *testing.T) {
	mon := &fakeMonitor{}
	h := newTestMux(t, mon)

	if rr := do(t, h, http.MethodPost, "/admin/start", ""); rr.Code != http.StatusOK || !mon.Running() {
		t.Fatalf("start: %d running=%v", rr.Code, mon.Running())
	}
	if rr := do(t, h, http.MethodPost, "/admin/stop", ""); rr.Code != http.StatusOK || mon.Running() {
		t.Fatalf("stop: %d running=%v", rr.Code, mon.Running())
	}
	mon.stopErr = errors.New("kill capture s1: permission denied")
	if rr := do(t, h, http.MethodPost, "/admin/stop", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("stop with error: expected 500, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/admin/start", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /admin/start: expected 405, got %d", rr.Code)
	}
}

func TestReadyz(t *testing.T) {
	mon := &fakeMonitor{}
	h := newTestMux(t, mon)

	rr := do(t, h, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while stopped, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["failed_check"] != "monitor" {
		t.Errorf("failed_check = %q, want monitor", resp["failed_check"])
	}

	mon.StartAll(context.Background())
	if rr := do(t, h, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Errorf("expected 200 once running, got %d body=%s", rr.Code, rr.Body.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	noCookies := NewMux(ctx, Options{Monitor: mon})
	rr = do(t, noCookies, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "credentials") {
		t.Errorf("expected credentials failure, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestStatus(t *testing.T) {
	mon := &fakeMonitor{rooms: []monitor.Snapshot{
		{RoomID: "11111111", Phase: monitor.PhaseLive, Recording: true},
		{RoomID: "22222222", Phase: monitor.PhaseLive},
		{RoomID: "33333333", Phase: monitor.PhaseOffline},
	}}
	rr := do(t, newTestMux(t, mon), http.MethodGet, "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Rooms != 3 || resp.Live != 2 || resp.Recording != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1", resp.Rooms, resp.Live, resp.Recording)
	}
	if resp.Identity != "viewer" || resp.Cookies.Decrypted != 3 {
		t.Errorf("identity/cookies = %q %+v", resp.Identity, resp.Cookies)
	}
	if resp.Captures == nil || resp.Captures.Limit != 2 || resp.Captures.InUse != 1 || len(resp.Captures.Sessions) != 1 {
		t.Errorf("captures = %+v", resp.Captures)
	}
}

func TestEventsStream(t *testing.T) {
	mon := &fakeMonitor{rooms: []monitor.Snapshot{{RoomID: "11111111", Phase: monitor.PhaseIdle}}}
	srv := httptest.NewServer(newTestMux(t, mon))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func() monitor.Snapshot {
		t.Helper()
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatal("stream closed")
				}
				if data, found := strings.CutPrefix(l, "data: "); found {
					var s monitor.Snapshot
					if err := json.Unmarshal([]byte(data), &s); err != nil {
						t.Fatalf("bad event data %q: %v", data, err)
					}
					return s
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for event")
			}
		}
	}

	if s := next(); s.RoomID != "11111111" || s.Phase != monitor.PhaseIdle {
		t.Errorf("initial event = %+v", s)
	}
	for mon.subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	mon.publish(monitor.Snapshot{RoomID: "11111111", Phase: monitor.PhaseLive, StatusText: "live"})
	if s := next(); s.Phase != monitor.PhaseLive {
		t.Errorf("update event = %+v", s)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/rooms", "/rooms"},
		{"/rooms/123456789", "/rooms/{id}"},
		{"/rooms/123456789/preview", "/rooms/{id}/preview"},
		{"/admin/start", "/admin/start"},
		{"/wp-login.php", "other"},
		{"/", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := routeLabel(tt.path); got != tt.want {
				t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", Options{Monitor: &fakeMonitor{}}) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

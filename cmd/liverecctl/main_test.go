package main

import (
	"bytes"
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

	"github.com/onnwee/live-recorder/crypto"
	"github.com/onnwee/live-recorder/monitor"
	"github.com/onnwee/live-recorder/testutil"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// fakeRecorder serves the recorder API from an in-memory room list.
type fakeRecorder struct {
	*httptest.Server

	mu      sync.Mutex
	rooms   []monitor.Snapshot
	tokens  []string
	running bool
}

func newFakeRecorder(t *testing.T) *fakeRecorder {
	t.Helper()
	f := &fakeRecorder{
		rooms: []monitor.Snapshot{
			{RoomID: "123456789", DisplayName: "anchor", Title: "evening show", Phase: monitor.PhaseLive, StatusText: "live", StatusColor: "green", Recording: true, OutputPath: "Downloads/anchor_20240501_203000.mp4", CheckedAt: time.Now().Add(-time.Minute)},
			{RoomID: "987654321", Phase: monitor.PhaseOffline, StatusText: "offline", StatusColor: "red"},
		},
		running: true,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rooms", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.rooms)
	})
	mux.HandleFunc("POST /rooms", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var req struct{ Input, Name string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		id := monitor.ExtractRoomID(req.Input)
		snap := monitor.Snapshot{RoomID: id, DisplayName: req.Name, Phase: monitor.PhaseIdle, StatusText: "idle"}
		f.mu.Lock()
		f.rooms = append(f.rooms, snap)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(snap)
	})
	mux.HandleFunc("DELETE /rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		if r.PathValue("id") != "123456789" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"room not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"removed"}`))
	})
	mux.HandleFunc("POST /rooms/{id}/preview", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"room is not live"}`))
	})
	mux.HandleFunc("POST /admin/start", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = w.Write([]byte(`{"status":"started"}`))
	})
	mux.HandleFunc("POST /admin/stop", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.Header.Get("X-Admin-Token") != "s3cret" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status":"stopped"}`))
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"identity":  "viewer",
			"uptime":    "1m0s",
			"running":   f.running,
			"rooms":     len(f.rooms),
			"live":      1,
			"recording": 1,
			"captures": map[string]any{
				"limit":    2,
				"in_use":   1,
				"sessions": []map[string]any{{"id": "s1", "room_id": "123456789", "output_path": "Downloads/anchor_20240501_203000.mp4", "started_at": time.Now().Add(-time.Hour)}},
			},
			"cookies":   map[string]any{"total": 12, "plaintext": 2, "decrypted": 9, "failed": 1},
			"room_list": f.rooms,
		})
	})
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(": keep-alive\n\n"))
		f.mu.Lock()
		rooms := append([]monitor.Snapshot(nil), f.rooms...)
		f.mu.Unlock()
		for _, s := range rooms {
			b, _ := json.Marshal(s)
			fmt.Fprintf(w, "event: room\nid: %s\ndata: %s\n\n", s.RoomID, b)
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeRecorder) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, r.Header.Get("X-Admin-Token"))
}

func (f *fakeRecorder) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		return ""
	}
	return f.tokens[len(f.tokens)-1]
}

func TestRoomsTable(t *testing.T) {
	f := newFakeRecorder(t)
	out, _, err := runCLI(t, "--server", f.URL, "rooms")
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	requireContains(t, out, "123456789")
	requireContains(t, out, "anchor")
	requireContains(t, out, "evening show")
	requireContains(t, out, "minute ago")
	requireContains(t, out, "987654321")
}

func TestRoomsJSON(t *testing.T) {
	f := newFakeRecorder(t)
	out, _, err := runCLI(t, "--server", f.URL, "--json", "rooms")
	if err != nil {
		t.Fatalf("rooms --json: %v", err)
	}
	var rooms []monitor.Snapshot
	if err := json.Unmarshal([]byte(out), &rooms); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(rooms) != 2 || rooms[0].RoomID != "123456789" {
		t.Errorf("rooms = %+v", rooms)
	}
}

func TestAddSendsTokenAndExtractsID(t *testing.T) {
	f := newFakeRecorder(t)
	out, _, err := runCLI(t, "--server", f.URL, "--token", "s3cret", "add", "https://live.douyin.com/555666777", "--name", "late")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	requireContains(t, out, "Added room 555666777")
	if got := f.lastToken(); got != "s3cret" {
		t.Errorf("X-Admin-Token = %q, want s3cret", got)
	}
}

func TestRemove(t *testing.T) {
	f := newFakeRecorder(t)
	out, _, err := runCLI(t, "--server", f.URL, "remove", "123456789")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	requireContains(t, out, "Removed room 123456789")

	_, _, err = runCLI(t, "--server", f.URL, "rm", "111")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "room not found" {
		t.Errorf("remove unknown error = %v, want 404 room not found", err)
	}
}

func TestPreviewNotLive(t *testing.T) {
	f := newFakeRecorder(t)
	_, _, err := runCLI(t, "--server", f.URL, "preview", "987654321")
	if err == nil || !strings.Contains(err.Error(), "room is not live") {
		t.Errorf("preview error = %v, want not live", err)
	}
}

func TestStartStop(t *testing.T) {
	f := newFakeRecorder(t)
	out, _, err := runCLI(t, "--server", f.URL, "start")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Monitoring started")

	_, _, err = runCLI(t, "--server", f.URL, "stop")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("stop without token error = %v, want 401", err)
	}

	t.Setenv("ADMIN_TOKEN", "s3cret")
	out, _, err = runCLI(t, "--server", f.URL, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Monitoring stopped")
}

func TestStatus(t *testing.T) {
	f := newFakeRecorder(t)
	out, _, err := runCLI(t, "--server", f.URL, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Monitoring:")
	requireContains(t, out, "[OK] running for 1m0s")
	requireContains(t, out, "[OK] viewer")
	requireContains(t, out, "[WARN] 11 usable, 1 failed")
	requireContains(t, out, "1 in use of 2")
	requireContains(t, out, "started 1 hour ago")
	if strings.Contains(out, "\x1b[") {
		t.Errorf("non-terminal output should not be colorized")
	}
}

func TestWatch(t *testing.T) {
	f := newFakeRecorder(t)
	out, _, err := runCLI(t, "--server", f.URL, "watch", "--count", "1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	requireContains(t, out, "123456789")
	requireContains(t, out, "recording Downloads/anchor_20240501_203000.mp4")
	if strings.Contains(out, "987654321") {
		t.Errorf("--count 1 printed more than one event: %s", out)
	}

	out, _, err = runCLI(t, "--server", f.URL, "watch", "--room", "987654321")
	if err != nil {
		t.Fatalf("watch --room: %v", err)
	}
	if strings.Contains(out, "123456789") || !strings.Contains(out, "offline") {
		t.Errorf("watch --room output = %s", out)
	}
}

func TestDefaultServerURL(t *testing.T) {
	tests := []struct {
		name string
		env  string
		addr string
		want string
	}{
		{"default", "", "", "http://localhost:8080"},
		{"addr port", "", ":9000", "http://localhost:9000"},
		{"addr host", "", "10.0.0.2:9000", "http://10.0.0.2:9000"},
		{"env wins", "http://rec:8080/", ":9000", "http://rec:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultServerURL(tt.env, tt.addr); got != tt.want {
				t.Errorf("defaultServerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func setLocalEnv(t *testing.T, base string) {
	t.Helper()
	t.Setenv("BROWSER_USER_DATA_DIR", t.TempDir())
	t.Setenv("COOKIE_MASTER_KEY", "")
	t.Setenv("ROOMS", "")
	t.Setenv("ROOMS_FILE", "")
	t.Setenv("DOUYIN_LIVE_BASE_URL", base)
	t.Setenv("DOUYIN_WEB_BASE_URL", base)
}

func TestResolveAnonymous(t *testing.T) {
	m := testutil.NewMockDouyinServer(t)
	m.MockEnterRoom(testutil.EnterRoomBody(2, "evening show", "anchor", map[string]string{
		"FULL_HD1": "http://cdn.example/full.flv",
		"HD1":      "http://cdn.example/hd.flv",
	}))
	setLocalEnv(t, m.URL)

	out, errOut, err := runCLI(t, "resolve", "https://live.douyin.com/123456789")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	requireContains(t, errOut, "continuing without credentials")
	requireContains(t, out, "live via api")
	requireContains(t, out, "Owner:  anchor")
	requireContains(t, out, "Stream: http://cdn.example/full.flv")
}

func TestWhoamiRequiresCredentials(t *testing.T) {
	m := testutil.NewMockDouyinServer(t)
	m.MockMe(0, "viewer")
	setLocalEnv(t, m.URL)

	_, _, err := runCLI(t, "whoami")
	if !errors.Is(err, crypto.ErrKeyUnavailable) {
		t.Errorf("whoami error = %v, want ErrKeyUnavailable", err)
	}
	if m.Hits("/webcast/user/me/") != 0 {
		t.Errorf("identity endpoint called without credentials")
	}
}

func TestCookiesKeyUnavailable(t *testing.T) {
	setLocalEnv(t, "http://127.0.0.1:1")
	_, _, err := runCLI(t, "cookies")
	if !errors.Is(err, crypto.ErrKeyUnavailable) {
		t.Errorf("cookies error = %v, want ErrKeyUnavailable", err)
	}
}

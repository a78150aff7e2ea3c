// Package testutil holds test doubles shared across package tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockDouyinServer creates a test server that mocks the platform web endpoints.
// Handlers are keyed by URL path.
type MockDouyinServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu   sync.Mutex
	hits map[string]int
}

// NewMockDouyinServer creates a new mock platform server
func NewMockDouyinServer(t *testing.T) *MockDouyinServer {
	t.Helper()
	m := &MockDouyinServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.hits[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers h for path.
func (m *MockDouyinServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// Hits returns how many requests reached path.
func (m *MockDouyinServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// JSON registers a handler answering path with body encoded as JSON.
func (m *MockDouyinServer) JSON(path string, body any) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	})
}

// Status registers a handler answering path with a bare status code.
func (m *MockDouyinServer) Status(path string, code int) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

// MockMe adds a handler for the identity endpoint.
func (m *MockDouyinServer) MockMe(statusCode int, nickname string) {
	m.JSON("/webcast/user/me/", map[string]any{
		"status_code": statusCode,
		"data":        map[string]any{"nickname": nickname},
	})
}

// EnterRoomBody builds a room-enter envelope with one room entry.
func EnterRoomBody(status int, title, nickname string, flv map[string]string) map[string]any {
	room := map[string]any{
		"status": status,
		"title":  title,
		"owner":  map[string]any{"nickname": nickname},
	}
	if flv != nil {
		room["stream_url"] = map[string]any{"flv_pull_url": flv}
	}
	return map[string]any{
		"status_code": 0,
		"data":        map[string]any{"data": []any{room}},
	}
}

// MockEnterRoom adds a handler for the room-enter endpoint.
func (m *MockDouyinServer) MockEnterRoom(body any) {
	m.JSON("/webcast/room/web/enter/", body)
}

// MockRoomPage serves html for /<roomID>.
func (m *MockDouyinServer) MockRoomPage(roomID, html string) {
	m.Handle("/"+roomID, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	})
}

// RenderDataPage wraps data in the page's RENDER_DATA script tag, URL-escaped
// the way the site serves it.
func RenderDataPage(data any) string {
	b, _ := json.Marshal(data)
	return `<html><head><script id="RENDER_DATA" type="application/json">` +
		url.PathEscape(string(b)) +
		`</script></head><body></body></html>`
}

// MockPushCredentials adds a handler for the room-create endpoint.
func (m *MockDouyinServer) MockPushCredentials(pushURL, key string) {
	m.JSON("/webcast/room/web/create/", map[string]any{
		"status_code": 0,
		"data": map[string]any{
			"room": map[string]any{
				"stream_url": map[string]any{"rtmp_push_url": pushURL, "rtmp_key": key},
			},
		},
	})
}

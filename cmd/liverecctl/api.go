package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/live-recorder/capture"
	"github.com/onnwee/live-recorder/cookies"
	"github.com/onnwee/live-recorder/monitor"
)

// apiClient talks to the recorder's HTTP API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
	// stream has no timeout; used for /events.
	stream *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:   base,
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
		stream: &http.Client{},
	}
}

// apiError is a non-2xx answer. Message is the server's "error" field when
// present.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("recorder answered HTTP %d", e.Status)
	}
	return fmt.Sprintf("recorder answered HTTP %d: %s", e.Status, e.Message)
}

type statusView struct {
	Identity  string    `json:"identity"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	Running   bool      `json:"running"`
	Rooms     int       `json:"rooms"`
	Live      int       `json:"live"`
	Recording int       `json:"recording"`
	Captures  *struct {
		Limit    int              `json:"limit"`
		InUse    int              `json:"in_use"`
		Sessions []capture.Handle `json:"sessions"`
	} `json:"captures"`
	Cookies  cookies.Report     `json:"cookies"`
	RoomList []monitor.Snapshot `json:"room_list"`
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Admin-Token", c.token)
	}
	return req, nil
}

// do sends a request and decodes a JSON answer into out (when non-nil).
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to recorder at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &apiError{Status: resp.StatusCode, Message: msg}
}

func (c *apiClient) Status(ctx context.Context) (*statusView, error) {
	var out statusView
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Rooms(ctx context.Context) ([]monitor.Snapshot, error) {
	var out []monitor.Snapshot
	if err := c.do(ctx, http.MethodGet, "/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) AddRoom(ctx context.Context, input, name string) (monitor.Snapshot, error) {
	var out monitor.Snapshot
	err := c.do(ctx, http.MethodPost, "/rooms", map[string]string{"input": input, "name": name}, &out)
	return out, err
}

func (c *apiClient) RemoveRoom(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) Preview(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(id)+"/preview", nil, nil)
}

func (c *apiClient) StartAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/start", nil, nil)
}

func (c *apiClient) StopAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/stop", nil, nil)
}

// Events follows /events and calls fn for every room snapshot until ctx ends,
// the stream closes, or fn returns false.
func (c *apiClient) Events(ctx context.Context, fn func(monitor.Snapshot) bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/events", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("connect to recorder at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && data.Len() > 0:
			var snap monitor.Snapshot
			if err := json.Unmarshal([]byte(data.String()), &snap); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if !fn(snap) {
				return nil
			}
		}
		// comments (": keep-alive"), event: and id: lines carry nothing we need
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read events: %w", err)
	}
	return ctx.Err()
}

// Package douyinapi contains minimal helpers for the platform's undocumented
// web endpoints: identity check, room status, room page and push credentials.
// Requests authenticate with browser cookies carried by the client's jar.
package douyinapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultLiveBaseURL = "https://live.douyin.com"
	DefaultWebBaseURL  = "https://www.douyin.com"
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0"
	DefaultTimeout     = 20 * time.Second

	// Referer sent with every request and with capture processes.
	Referer = "https://live.douyin.com/"

	appID = "6383"

	maxPageBytes = 8 << 20
)

var (
	// ErrAuthenticationStale means the platform rejected the session cookies.
	// Callers warn and continue; anonymous resolution may still work.
	ErrAuthenticationStale = errors.New("authentication stale: log in again in the browser")

	// ErrBadResponse marks a 2xx response whose body could not be decoded.
	ErrBadResponse = errors.New("unexpected response body")
)

// RequestError is a transport-level failure: the request could not be sent or
// the server answered with a non-2xx status.
type RequestError struct {
	Op     string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a RequestError.
func IsTransport(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// Client issues platform requests. The zero value is not usable; use New.
type Client struct {
	HTTPClient  *http.Client
	LiveBaseURL string
	WebBaseURL  string
	UserAgent   string
}

// Options configures New.
type Options struct {
	Jar         http.CookieJar
	Timeout     time.Duration
	LiveBaseURL string
	WebBaseURL  string
	UserAgent   string
}

// NewHTTPClient returns an instrumented client sharing jar across requests.
func NewHTTPClient(jar http.CookieJar, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Jar:       jar,
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// New builds a Client, filling unset options with defaults.
func New(opts Options) *Client {
	c := &Client{
		HTTPClient:  NewHTTPClient(opts.Jar, opts.Timeout),
		LiveBaseURL: strings.TrimRight(opts.LiveBaseURL, "/"),
		WebBaseURL:  strings.TrimRight(opts.WebBaseURL, "/"),
		UserAgent:   opts.UserAgent,
	}
	if c.LiveBaseURL == "" {
		c.LiveBaseURL = DefaultLiveBaseURL
	}
	if c.WebBaseURL == "" {
		c.WebBaseURL = DefaultWebBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// browserQuery carries the fingerprint parameters the web client sends.
func browserQuery() url.Values {
	q := url.Values{}
	q.Set("aid", appID)
	q.Set("device_platform", "web")
	q.Set("browser_language", "zh-CN")
	q.Set("browser_platform", "Win32")
	q.Set("browser_name", "edge")
	q.Set("browser_version", "122.0.0.0")
	return q
}

func (c *Client) newRequest(ctx context.Context, rawURL string, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Referer", Referer)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	return req, nil
}

// get performs a GET and returns the body (capped at limit bytes). Non-2xx
// statuses and network errors come back as *RequestError.
func (c *Client) get(ctx context.Context, op, rawURL, accept string, limit int64) ([]byte, error) {
	req, err := c.newRequest(ctx, rawURL, accept)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &RequestError{Op: op, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, out any) error {
	body, err := c.get(ctx, op, rawURL, "application/json, text/plain, */*", maxPageBytes)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return fmt.Errorf("%s: %w: not json", op, ErrBadResponse)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrBadResponse, err)
	}
	return nil
}

// Warmup visits the web and live front pages so the jar picks up a fresh
// ttwid. Failures are logged and returned joined; callers may ignore them.
func (c *Client) Warmup(ctx context.Context) error {
	var errs []error
	for _, u := range []string{c.WebBaseURL + "/", c.LiveBaseURL + "/"} {
		if _, err := c.get(ctx, "warmup", u, "text/html,application/xhtml+xml,*/*;q=0.8", 1<<20); err != nil {
			slog.Debug("warmup request failed", slog.String("component", "douyinapi"), slog.String("url", u), slog.Any("err", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package app holds the start-up plumbing shared by the recorder daemon and
// liverecctl: logging, browser credentials, the platform client and the
// single-instance lock.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/onnwee/live-recorder/capture"
	"github.com/onnwee/live-recorder/config"
	"github.com/onnwee/live-recorder/cookies"
	"github.com/onnwee/live-recorder/crypto"
	"github.com/onnwee/live-recorder/douyinapi"
)

// ErrAlreadyRunning means another daemon holds the lock in DATA_DIR.
var ErrAlreadyRunning = errors.New("another live-recorder instance is already running")

// ParseLevel maps LOG_LEVEL values to slog levels. ok is false for unknown
// values, which fall back to info.
func ParseLevel(s string) (lvl slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "info", "":
		return slog.LevelInfo, true
	}
	return slog.LevelInfo, false
}

// NewLogger builds a text or json logger (format "json" selects json).
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, ok := ParseLevel(level)
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	if !ok {
		logger.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	return logger
}

// SetupLogging installs the LOG_LEVEL / LOG_FORMAT logger as the default.
func SetupLogging(w io.Writer) *slog.Logger {
	logger := NewLogger(w, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(logger)
	return logger
}

// Extractor returns the cookie extractor described by cfg. A configured
// COOKIE_MASTER_KEY replaces the Local State unwrap.
func Extractor(cfg *config.Config) (*cookies.Extractor, error) {
	ex := &cookies.Extractor{
		Profile:     cookies.Profile{UserDataDir: cfg.BrowserUserDataDir, Name: cfg.BrowserProfile},
		Domain:      cfg.CookieDomain,
		Unprotector: crypto.DPAPI{},
	}
	if ex.Profile.UserDataDir == "" {
		ex.Profile.UserDataDir = cookies.DefaultProfile().UserDataDir
	}
	if cfg.CookieMasterKey != "" {
		key, err := crypto.MasterKeyFromBase64(cfg.CookieMasterKey)
		if err != nil {
			return nil, fmt.Errorf("COOKIE_MASTER_KEY: %w", err)
		}
		ex.MasterKey = &key
	}
	return ex, nil
}

// LoadCredentials extracts the browser cookies. Only crypto.ErrKeyUnavailable
// is fatal; any other failure yields an empty store so anonymous resolution
// can still run.
func LoadCredentials(ctx context.Context, cfg *config.Config) (*cookies.Store, cookies.Report, error) {
	ex, err := Extractor(cfg)
	if err != nil {
		return nil, cookies.Report{}, err
	}
	store, rep, err := ex.Extract(ctx)
	if err != nil {
		if cookies.IsKeyUnavailable(err) {
			return nil, rep, err
		}
		slog.Warn("cookie extraction failed, continuing without credentials", slog.String("component", "cookies"), slog.Any("err", err))
		rep.Warnings = append(rep.Warnings, err.Error())
		return cookies.NewStore(nil), rep, nil
	}
	return store, rep, nil
}

// NewClient builds the platform client with a jar seeded from store.
func NewClient(cfg *config.Config, store *cookies.Store) (*douyinapi.Client, error) {
	if store == nil {
		store = cookies.NewStore(nil)
	}
	jar, err := store.Jar(cfg.CookieDomain)
	if err != nil {
		return nil, err
	}
	return douyinapi.New(douyinapi.Options{
		Jar:         jar,
		Timeout:     cfg.HTTPTimeout,
		LiveBaseURL: cfg.LiveBaseURL,
		WebBaseURL:  cfg.WebBaseURL,
		UserAgent:   cfg.UserAgent,
	}), nil
}

// CaptureHeaders renders the headers ffmpeg sends when pulling a stream. The
// ttwid cookie comes from the client's jar (refreshed by Warmup) and falls
// back to the browser store.
func CaptureHeaders(c *douyinapi.Client, store *cookies.Store) capture.RequestHeaders {
	h := capture.RequestHeaders{Referer: douyinapi.Referer, UserAgent: c.UserAgent}
	if ttwid := jarCookie(c.HTTPClient, c.LiveBaseURL, cookies.CookieTTWID); ttwid != "" {
		h.Cookie = cookies.CookieTTWID + "=" + ttwid
	} else if store != nil {
		h.Cookie = store.Header(cookies.CookieTTWID)
	}
	return h
}

func jarCookie(hc *http.Client, rawURL, name string) string {
	if hc == nil || hc.Jar == nil {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, ck := range hc.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// Lock is the daemon's single-instance lock file.
type Lock struct {
	path string
	fl   *flock.Flock
}

// AcquireLock takes dir/live-recorder.lock, creating dir as needed. It fails
// with ErrAlreadyRunning when another process holds it.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, "live-recorder.lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks the file.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the recorder can run locally with only a browser profile present.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Room is one monitored room from ROOMS or ROOMS_FILE. Input is a room id or
// a pasted room URL.
type Room struct {
	Name  string `toml:"name"`
	Input string `toml:"id"`
}

type Config struct {
	// Browser credentials
	BrowserUserDataDir string
	BrowserProfile     string
	CookieDomain       string
	CookieMasterKey    string

	// Platform
	LiveBaseURL string
	WebBaseURL  string
	UserAgent   string
	HTTPTimeout time.Duration

	// Monitoring
	PollInterval     time.Duration
	BackoffThreshold int
	BackoffMax       time.Duration
	Rooms            []Room
	AutoStart        bool

	// Capture
	FFmpegPath            string
	FFplayPath            string
	OutputDir             string
	MaxConcurrentCaptures int
	CaptureStopTimeout    time.Duration

	// Service
	DataDir  string
	HTTPAddr string
}

// Load reads environment variables and applies defaults. Rooms come from ROOMS
// (comma separated ids or URLs) followed by the entries of ROOMS_FILE.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.BrowserUserDataDir = os.Getenv("BROWSER_USER_DATA_DIR")
	if cfg.BrowserUserDataDir == "" {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			cfg.BrowserUserDataDir = filepath.Join(local, "Microsoft", "Edge", "User Data")
		}
	}
	cfg.BrowserProfile = getString("BROWSER_PROFILE", "Default")
	cfg.CookieDomain = getString("COOKIE_DOMAIN", ".douyin.com")
	cfg.CookieMasterKey = os.Getenv("COOKIE_MASTER_KEY")

	cfg.LiveBaseURL = os.Getenv("DOUYIN_LIVE_BASE_URL")
	cfg.WebBaseURL = os.Getenv("DOUYIN_WEB_BASE_URL")
	cfg.UserAgent = os.Getenv("DOUYIN_USER_AGENT")

	var err error
	if cfg.HTTPTimeout, err = getDuration("HTTP_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffThreshold, err = getInt("RESOLVE_BACKOFF_THRESHOLD", 0); err != nil {
		return nil, err
	}
	if cfg.BackoffMax, err = getDuration("RESOLVE_BACKOFF_MAX", 5*time.Minute); err != nil {
		return nil, err
	}
	cfg.AutoStart = os.Getenv("AUTO_START") != "0" // on by default

	cfg.FFmpegPath = getString("FFMPEG_PATH", "ffmpeg")
	cfg.FFplayPath = getString("FFPLAY_PATH", "ffplay")
	cfg.OutputDir = getString("OUTPUT_DIR", "Downloads")
	if cfg.MaxConcurrentCaptures, err = getInt("MAX_CONCURRENT_CAPTURES", 0); err != nil {
		return nil, err
	}
	if cfg.CaptureStopTimeout, err = getDuration("CAPTURE_STOP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.DataDir = getString("DATA_DIR", "data")
	cfg.HTTPAddr = getString("HTTP_ADDR", ":8080")

	for _, part := range strings.Split(os.Getenv("ROOMS"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			cfg.Rooms = append(cfg.Rooms, Room{Input: part})
		}
	}
	if path := os.Getenv("ROOMS_FILE"); path != "" {
		rooms, err := LoadRooms(path)
		if err != nil {
			return nil, err
		}
		cfg.Rooms = append(cfg.Rooms, rooms...)
	}

	return cfg, nil
}

// LoadRooms reads a room list. Files ending in .toml hold [[room]] tables with
// name and id keys; anything else is "name,id" per line with # comments.
func LoadRooms(path string) ([]Room, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rooms file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var doc struct {
			Room []Room `toml:"room"`
		}
		if err := toml.NewDecoder(f).Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse rooms file: %w", err)
		}
		out := make([]Room, 0, len(doc.Room))
		for i, r := range doc.Room {
			r.Name, r.Input = strings.TrimSpace(r.Name), strings.TrimSpace(r.Input)
			if r.Input == "" {
				return nil, fmt.Errorf("rooms file: room %d has no id", i+1)
			}
			out = append(out, r)
		}
		return out, nil
	}

	var out []Room
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, id, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		// extra columns are ignored
		id, _, _ = strings.Cut(id, ",")
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		out = append(out, Room{Name: strings.TrimSpace(name), Input: id})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read rooms file: %w", err)
	}
	return out, nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s (non-negative integer): %q", key, v)
	}
	return n, nil
}

// getDuration accepts Go durations ("30s") or bare seconds ("30").
func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s (duration like 15s): %q", key, v)
	}
	return d, nil
}

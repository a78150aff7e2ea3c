package capture

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// RequestHeaders are sent by ffmpeg and ffplay when pulling the stream.
type RequestHeaders struct {
	Referer   string
	UserAgent string
	// Cookie is a rendered Cookie header value, usually just ttwid.
	Cookie string
}

// String renders the headers in ffmpeg's -headers format (CRLF separated).
func (h RequestHeaders) String() string {
	var b strings.Builder
	if h.Referer != "" {
		fmt.Fprintf(&b, "Referer: %s\r\n", h.Referer)
	}
	if h.UserAgent != "" {
		fmt.Fprintf(&b, "User-Agent: %s\r\n", h.UserAgent)
	}
	if h.Cookie != "" {
		fmt.Fprintf(&b, "Cookie: %s\r\n", h.Cookie)
	}
	return b.String()
}

// FFmpegArgs builds the stream-copy command line writing url to out.
func FFmpegArgs(url, out string, h RequestHeaders) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if hs := h.String(); hs != "" {
		args = append(args, "-headers", hs)
	}
	return append(args, "-i", url, "-c", "copy", "-y", out)
}

// FFplayArgs builds a low-latency preview command line.
func FFplayArgs(url, title string, h RequestHeaders) []string {
	args := []string{"-loglevel", "error"}
	if hs := h.String(); hs != "" {
		args = append(args, "-headers", hs)
	}
	return append(args,
		"-window_title", "Preview: "+title,
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-framedrop",
		"-x", "480",
		"-i", url,
	)
}

// OutputPath returns dir/<name>_<yyyyMMdd_HHmmss>.mp4 with name made safe
// for every common filesystem.
func OutputPath(dir, displayName string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.mp4", SafeFileName(displayName), at.Format("20060102_150405")))
}

// SafeFileName normalizes name to NFC and replaces path separators, reserved
// and control characters with underscores.
func SafeFileName(name string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), " .")
	if out == "" {
		return "room"
	}
	const maxRunes = 80
	if r := []rune(out); len(r) > maxRunes {
		out = strings.TrimRight(string(r[:maxRunes]), " .")
	}
	return out
}

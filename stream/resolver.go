// Package stream turns a room identifier into a live/offline verdict and a
// playable media URL. Three strategies are tried in a fixed order, each only
// when the previous one gave no conclusive answer:
//
//  1. the room-enter JSON API
//  2. the RENDER_DATA payload embedded in the room page
//  3. a scrape of the raw page for media URLs
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"github.com/onnwee/live-recorder/douyinapi"
	"github.com/onnwee/live-recorder/telemetry"
)

// LiveStatus is the room status code that denotes an active broadcast.
const LiveStatus = 2

// Strategy names which step of the chain produced an answer.
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategyAPI      Strategy = "api"
	StrategyEmbedded Strategy = "embedded"
	StrategyScrape   Strategy = "scrape"
)

// FailureKind separates a genuine answer from the two failure modes.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureTransport means no request reached the platform successfully.
	FailureTransport
	// FailureExhausted means every strategy ran and none was conclusive.
	FailureExhausted
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureExhausted:
		return "exhausted"
	}
	return "none"
}

// ErrInconclusive marks a strategy whose input did not have the expected shape.
var ErrInconclusive = errors.New("resolve inconclusive")

// Info is the outcome of one resolve. Title and OwnerName are empty when unknown.
type Info struct {
	IsLive     bool        `json:"is_live"`
	StreamURL  string      `json:"stream_url,omitempty"`
	Title      string      `json:"title,omitempty"`
	OwnerName  string      `json:"owner_name,omitempty"`
	Diagnostic string      `json:"diagnostic,omitempty"`
	Strategy   Strategy    `json:"strategy"`
	Failure    FailureKind `json:"failure"`
}

// Failed reports whether the resolve produced no conclusive answer.
func (i Info) Failed() bool { return i.Failure != FailureNone }

// API is the subset of the platform client the resolver needs.
type API interface {
	EnterRoom(ctx context.Context, roomID string) (*douyinapi.EnterResponse, error)
	RoomPage(ctx context.Context, roomID string) (string, error)
}

// Resolver runs the fallback chain. Safe for concurrent use.
type Resolver struct {
	api API
}

// NewResolver returns a Resolver backed by api.
func NewResolver(api API) *Resolver {
	return &Resolver{api: api}
}

// Resolve never returns an error: failures come back as an offline Info with
// Failure set and a Diagnostic explaining what each strategy saw.
func (r *Resolver) Resolve(ctx context.Context, roomID string) Info {
	ctx, span := telemetry.StartSpan(ctx, "stream", "stream.Resolve", telemetry.RoomAttr(roomID))
	defer span.End()

	var info Info
	elapsed := telemetry.TimeFunc(telemetry.ResolveDuration, func() {
		info = r.resolve(ctx, roomID)
	})

	outcome := "offline"
	switch {
	case info.Failure == FailureTransport:
		outcome = "transport"
	case info.Failure == FailureExhausted:
		outcome = "exhausted"
	case info.IsLive:
		outcome = "live"
	}
	telemetry.ObserveResolve(string(info.Strategy), outcome)
	slog.Debug("resolve finished", slog.String("component", "resolver"), slog.String("room_id", roomID), slog.String("outcome", outcome), slog.Duration("elapsed", elapsed))
	span.SetAttributes(telemetry.StrategyAttr(string(info.Strategy)))
	if info.Failed() {
		telemetry.RecordError(span, errors.New(info.Diagnostic))
	} else {
		telemetry.SetSpanSuccess(span)
	}
	return info
}

func (r *Resolver) resolve(ctx context.Context, roomID string) Info {
	logger := slog.Default().With(slog.String("component", "resolver"), slog.String("room_id", roomID))
	var reasons []string

	resp, apiErr := r.api.EnterRoom(ctx, roomID)
	if apiErr == nil {
		info, err := fromEnterResponse(resp)
		if err == nil {
			return info
		}
		apiErr = err
	}
	logger.Debug("api strategy inconclusive", slog.Any("err", apiErr))
	reasons = append(reasons, "api: "+apiErr.Error())

	page, pageErr := r.api.RoomPage(ctx, roomID)
	if pageErr != nil {
		reasons = append(reasons, "page: "+pageErr.Error())
		kind := FailureExhausted
		if douyinapi.IsTransport(apiErr) && douyinapi.IsTransport(pageErr) {
			kind = FailureTransport
		}
		return failed(kind, reasons)
	}

	info, err := FromRoomPage(page)
	if err == nil {
		return info
	}
	logger.Debug("embedded strategy inconclusive", slog.Any("err", err))
	reasons = append(reasons, "embedded: "+err.Error())

	if u, ok := ScrapeMediaURL(page); ok {
		return Info{
			IsLive:     true,
			StreamURL:  u,
			Strategy:   StrategyScrape,
			Diagnostic: "stream URL scraped from page; title and owner unknown",
		}
	}
	reasons = append(reasons, "scrape: no media URL in page")
	return failed(FailureExhausted, reasons)
}

func failed(kind FailureKind, reasons []string) Info {
	var lead string
	if kind == FailureTransport {
		lead = "network error reaching platform"
	} else {
		lead = "all strategies failed, probably anti-bot interference (verification page or redirect)"
	}
	return Info{
		IsLive:     false,
		Strategy:   StrategyNone,
		Failure:    kind,
		Diagnostic: lead + ": " + strings.Join(reasons, "; "),
	}
}

func inconclusive(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconclusive, fmt.Sprintf(format, args...))
}

// fromEnterResponse interprets the room-enter envelope. A parsed status is
// conclusive; missing fields, or a live room without a usable URL, are not.
func fromEnterResponse(resp *douyinapi.EnterResponse) (Info, error) {
	if resp == nil || resp.StatusCode == nil {
		return Info{}, inconclusive("status_code missing")
	}
	if *resp.StatusCode != 0 {
		return Info{}, inconclusive("status_code %d", *resp.StatusCode)
	}
	if resp.Data == nil || len(resp.Data.Data) == 0 {
		return Info{}, inconclusive("data.data empty")
	}
	room := resp.Data.Data[0]
	if room.Status == nil {
		return Info{}, inconclusive("room status missing")
	}
	info := Info{Title: room.Title, Strategy: StrategyAPI}
	if room.Owner != nil {
		info.OwnerName = room.Owner.Nickname
	}
	if *room.Status != LiveStatus {
		return info, nil
	}
	if room.StreamURL == nil {
		return Info{}, inconclusive("live room without stream_url")
	}
	u, ok := SelectQuality(room.StreamURL.FlvPullURL)
	if !ok {
		return Info{}, inconclusive("live room without FULL_HD1/HD1 pull url")
	}
	info.IsLive = true
	info.StreamURL = u
	return info, nil
}

// renderDataScript returns the raw text of <script id="RENDER_DATA">.
func renderDataScript(page string) (string, bool) {
	z := html.NewTokenizer(strings.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "script" || !hasAttr || !hasAttrValue(z, "id", "RENDER_DATA") {
				continue
			}
			if z.Next() != html.TextToken {
				return "", true
			}
			return string(z.Text()), true
		}
	}
}

func hasAttrValue(z *html.Tokenizer, key, value string) bool {
	for {
		k, v, more := z.TagAttr()
		if string(k) == key && string(v) == value {
			return true
		}
		if !more {
			return false
		}
	}
}

// unescapeData decodes %XX sequences. Malformed escapes are kept as written
// instead of failing the whole payload.
func unescapeData(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c >= 'a':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// FromRoomPage extracts room state from the RENDER_DATA payload of a room page.
func FromRoomPage(page string) (Info, error) {
	payload, ok := renderDataScript(page)
	if !ok {
		return Info{}, inconclusive("RENDER_DATA script not found")
	}
	tree, err := ParseNode([]byte(unescapeData(payload)))
	if err != nil {
		return Info{}, inconclusive("parse RENDER_DATA: %v", err)
	}
	roomInfo := FindKey(tree, "roomInfo")
	if roomInfo == nil {
		return Info{}, inconclusive("roomInfo not found")
	}
	room := roomInfo.Get("room")
	status, ok := room.Get("status").Int()
	if !ok {
		return Info{}, inconclusive("roomInfo.room.status missing")
	}

	info := Info{Strategy: StrategyEmbedded}
	info.Title, _ = room.Get("title").String()
	if name, ok := room.Path("owner", "nickname").String(); ok && name != "" {
		info.OwnerName = name
	} else if name, ok := roomInfo.Path("anchor", "nickname").String(); ok {
		info.OwnerName = name
	}
	if status != LiveStatus {
		return info, nil
	}
	u, ok := SelectQuality(room.Path("stream_url", "flv_pull_url").StringMap())
	if !ok {
		return Info{}, inconclusive("live room without FULL_HD1/HD1 pull url")
	}
	info.IsLive = true
	info.StreamURL = u
	return info, nil
}

package douyinapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Identity is the logged-in account behind the cookies.
type Identity struct {
	Nickname string `json:"nickname"`
	UserID   string `json:"id_str,omitempty"`
}

// Me checks the session. A non-zero status_code wraps ErrAuthenticationStale.
func (c *Client) Me(ctx context.Context) (*Identity, error) {
	var body struct {
		StatusCode int      `json:"status_code"`
		Data       Identity `json:"data"`
	}
	u := c.LiveBaseURL + "/webcast/user/me/?" + browserQuery().Encode()
	if err := c.getJSON(ctx, "user me", u, &body); err != nil {
		return nil, err
	}
	if body.StatusCode != 0 {
		return nil, fmt.Errorf("%w (status_code %d)", ErrAuthenticationStale, body.StatusCode)
	}
	return &body.Data, nil
}

// EnterResponse is the viewer room-enter envelope. Fields the caller must
// tell apart from zero values are pointers.
type EnterResponse struct {
	StatusCode *int `json:"status_code"`
	Data       *struct {
		Data []RoomEntry `json:"data"`
	} `json:"data"`
}

// RoomEntry is one element of data.data.
type RoomEntry struct {
	Status    *int       `json:"status"`
	Title     string     `json:"title"`
	Owner     *Owner     `json:"owner"`
	StreamURL *StreamURL `json:"stream_url"`
}

// Owner is the broadcaster of a room.
type Owner struct {
	Nickname string `json:"nickname"`
}

// StreamURL holds pull URLs keyed by quality label (FULL_HD1, HD1, SD1...).
type StreamURL struct {
	FlvPullURL    map[string]string `json:"flv_pull_url"`
	HLSPullURLMap map[string]string `json:"hls_pull_url_map"`
}

// EnterRoom fetches the room-enter API for roomID. The caller interprets the
// shape; only transport and decode failures are errors here.
func (c *Client) EnterRoom(ctx context.Context, roomID string) (*EnterResponse, error) {
	q := url.Values{}
	q.Set("web_rid", roomID)
	q.Set("aid", appID)
	q.Set("device_platform", "web")
	u := c.LiveBaseURL + "/webcast/room/web/enter/?" + q.Encode()

	var out EnterResponse
	if err := c.getJSON(ctx, "room enter", u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RoomPage fetches the HTML page of a room.
func (c *Client) RoomPage(ctx context.Context, roomID string) (string, error) {
	body, err := c.get(ctx, "room page", c.LiveBaseURL+"/"+url.PathEscape(roomID),
		"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", maxPageBytes)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PushCredentials is the RTMP ingest endpoint for the logged-in account.
type PushCredentials struct {
	PushURL string `json:"rtmp_push_url"`
	Key     string `json:"rtmp_key"`
}

// ErrNoPushCredentials means the account has not initialised broadcasting.
var ErrNoPushCredentials = errors.New("no push credentials: open the broadcast page once in the browser")

// PushCredentials asks the room-create endpoint for the account's RTMP
// ingest URL and stream key.
func (c *Client) PushCredentials(ctx context.Context) (*PushCredentials, error) {
	var body struct {
		StatusCode int `json:"status_code"`
		Data       struct {
			Room struct {
				StreamURL PushCredentials `json:"stream_url"`
			} `json:"room"`
		} `json:"data"`
	}
	u := c.LiveBaseURL + "/webcast/room/web/create/?" + browserQuery().Encode()
	if err := c.getJSON(ctx, "room create", u, &body); err != nil {
		return nil, err
	}
	if body.StatusCode != 0 {
		return nil, fmt.Errorf("%w (status_code %d)", ErrAuthenticationStale, body.StatusCode)
	}
	pc := body.Data.Room.StreamURL
	if pc.PushURL == "" || pc.Key == "" {
		return nil, ErrNoPushCredentials
	}
	return &pc, nil
}

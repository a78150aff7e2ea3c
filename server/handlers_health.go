package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/live-recorder/capture"
	"github.com/onnwee/live-recorder/cookies"
	"github.com/onnwee/live-recorder/monitor"
)

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once monitoring runs with usable credentials.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"monitor", func() error {
			if !h.opts.Monitor.Running() {
				return errors.New("monitoring stopped")
			}
			return nil
		}},
		{"credentials", func() error {
			rep := h.opts.CookieReport
			if rep.Plaintext+rep.Decrypted == 0 {
				return errors.New("no browser cookies available")
			}
			return nil
		}},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type captureStatus struct {
	Limit    int              `json:"limit"`
	InUse    int              `json:"in_use"`
	Sessions []capture.Handle `json:"sessions"`
}

type statusResponse struct {
	Identity  string             `json:"identity,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	Uptime    string             `json:"uptime"`
	Running   bool               `json:"running"`
	Rooms     int                `json:"rooms"`
	Live      int                `json:"live"`
	Recording int                `json:"recording"`
	Captures  *captureStatus     `json:"captures,omitempty"`
	Cookies   cookies.Report     `json:"cookies"`
	RoomList  []monitor.Snapshot `json:"room_list"`
}

// HandleStatus summarizes the process for dashboards and liverecctl.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	rooms := h.opts.Monitor.List()
	resp := statusResponse{
		Identity:  h.opts.Identity,
		StartedAt: h.opts.StartedAt,
		Uptime:    time.Since(h.opts.StartedAt).Round(time.Second).String(),
		Running:   h.opts.Monitor.Running(),
		Rooms:     len(rooms),
		Cookies:   h.opts.CookieReport,
		RoomList:  rooms,
	}
	for _, s := range rooms {
		if s.Phase == monitor.PhaseLive {
			resp.Live++
		}
		if s.Recording {
			resp.Recording++
		}
	}
	if h.opts.Captures != nil {
		limit, inUse := h.opts.Captures.Limit()
		resp.Captures = &captureStatus{Limit: limit, InUse: inUse, Sessions: h.opts.Captures.Active()}
	}
	writeJSON(w, http.StatusOK, resp)
}

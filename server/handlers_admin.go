package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/live-recorder/telemetry"
)

// HandleAdminStart starts polling every room. Idempotent.
func (h *Handlers) HandleAdminStart(w http.ResponseWriter, r *http.Request) {
	h.opts.Monitor.StartAll(h.ctx)
	telemetry.LoggerWithCorr(r.Context()).Info("monitoring started via api", slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]any{"status": "started", "rooms": len(h.opts.Monitor.List())})
}

// HandleAdminStop stops polling and every capture. It blocks until in-flight
// resolves have finished and all ffmpeg processes have exited.
func (h *Handlers) HandleAdminStop(w http.ResponseWriter, r *http.Request) {
	if err := h.opts.Monitor.StopAll(); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("stop all", slog.String("component", "http"), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

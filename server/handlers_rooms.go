package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/live-recorder/capture"
	"github.com/onnwee/live-recorder/monitor"
	"github.com/onnwee/live-recorder/telemetry"
)

// HandleRoomsList returns every monitored room's snapshot.
func (h *Handlers) HandleRoomsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Monitor.List())
}

type addRoomRequest struct {
	Input string `json:"input"`
	Name  string `json:"name"`
}

// HandleRoomsAdd registers a room from a pasted URL or id.
func (h *Handlers) HandleRoomsAdd(w http.ResponseWriter, r *http.Request) {
	var req addRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	snap, err := h.opts.Monitor.Add(req.Input, req.Name)
	switch {
	case errors.Is(err, monitor.ErrEmptyRoomID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, monitor.ErrRoomExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("room added via api", slog.String("component", "http"), slog.String("room_id", snap.RoomID))
	writeJSON(w, http.StatusCreated, snap)
}

// HandleRoomGet returns one room.
func (h *Handlers) HandleRoomGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.opts.Monitor.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleRoomRemove stops and forgets a room. It returns once any capture for
// the room has been stopped.
func (h *Handlers) HandleRoomRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.opts.Monitor.Remove(id)
	if errors.Is(err, monitor.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("remove room", slog.String("component", "http"), slog.String("room_id", id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "room_id": id})
}

// HandleRoomPreview opens an ffplay window on the room's current stream.
func (h *Handlers) HandleRoomPreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// the viewer outlives the request
	err := h.opts.Monitor.Preview(h.ctx, id)
	switch {
	case errors.Is(err, monitor.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrNotLive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, capture.ErrLaunchFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "preview_started", "room_id": id})
	}
}

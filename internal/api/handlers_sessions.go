package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/orchestrator"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/ws"
)

// SessionHandler serves the session lifecycle endpoints.
type SessionHandler struct {
	svc     *orchestrator.Service
	streams *ws.Handler
}

func NewSessionHandler(svc *orchestrator.Service, streams *ws.Handler) *SessionHandler {
	return &SessionHandler{svc: svc, streams: streams}
}

type researchRequest struct {
	Query string `json:"query"`
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := h.svc.CreateSession()
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sess.ID})
}

// Research handles POST /api/sessions/{id}/research
func (h *SessionHandler) Research(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.SubmitResearch(id, req.Query); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id, "status": "accepted"})
}

// Confirm handles POST /api/sessions/{id}/confirm
func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Confirm
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	reset, err := h.svc.ConfirmBuild(id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if reset {
		writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "status": "reset"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id, "status": "accepted"})
}

// Status handles GET /api/sessions/{id}
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Download handles GET /api/sessions/{id}/download
func (h *SessionHandler) Download(w http.ResponseWriter, r *http.Request) {
	name, data, err := h.svc.Download(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Dispose handles DELETE /api/sessions/{id}
func (h *SessionHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Dispose(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logs handles GET /api/sessions/{id}/logs as server-sent events. The stream
// starts at the current tail and ends after the next done event. A delivered
// or failed session gets its done event at once.
func (h *SessionHandler) Logs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	release, ok := h.streams.Admit()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "at capacity")
		return
	}
	defer release()

	id := chi.URLParam(r, "id")
	sub, _, err := h.svc.StreamLogs(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	slog.Info("log stream opened", "session", id, "transport", "sse")

	for {
		select {
		case <-r.Context().Done():
			slog.Info("log stream client disconnected", "session", id)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := marshalEvent(ev)
			if err != nil {
				slog.Warn("encode event", "error", err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/ledger"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/orchestrator"
)

// defaultLedgerSessionLimit is how many ledger sessions are returned when the
// caller omits ?limit=.
const defaultLedgerSessionLimit = 20

func marshalEvent(ev logbus.Event) ([]byte, error) { return sonic.Marshal(ev) }

type HealthHandler struct {
	svc *orchestrator.Service
}

func NewHealthHandler(svc *orchestrator.Service) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ready := h.svc.Readiness(r.Context())
	status := http.StatusOK
	if !ready.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ready)
}

type ChatHandler struct {
	svc *orchestrator.Service
}

func NewChatHandler(svc *orchestrator.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Engine    string `json:"engine"`
	Question  string `json:"question"`
}

// Ask handles POST /api/chat
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	reply, err := h.svc.Chat(r.Context(), req.SessionID, req.Engine, req.Question)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// Engines handles GET /api/engines
func (h *ChatHandler) Engines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"engines": h.svc.Engines()})
}

// LedgerHandler serves run history. A nil store answers 404 on every route.
type LedgerHandler struct {
	store *ledger.Store
}

func NewLedgerHandler(store *ledger.Store) *LedgerHandler {
	return &LedgerHandler{store: store}
}

func (h *LedgerHandler) enabled(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "ledger disabled")
		return false
	}
	return true
}

// Sessions handles GET /api/ledger/sessions
func (h *LedgerHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	limit := queryInt(r, "limit", defaultLedgerSessionLimit)
	offset := queryInt(r, "offset", 0)
	sessions, total, err := h.store.ListSessions(limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
}

// Session handles GET /api/ledger/sessions/{id}
func (h *LedgerHandler) Session(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	sess, runs, err := h.store.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "runs": runs})
}

// Run handles GET /api/ledger/sessions/{id}/runs/{runId}
func (h *LedgerHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	run, spans, err := h.store.GetRun(chi.URLParam(r, "id"), chi.URLParam(r, "runId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "spans": spans})
}

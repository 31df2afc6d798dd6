package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/artifact"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/ledger"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/orchestrator"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/pipeline"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/session"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		slog.Error("encode response", "error", err)
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return sonic.Unmarshal(body, v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, ledger.ErrNotFound), errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrInvalidPhase), errors.Is(err, session.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, finance.ErrInvalidModel), errors.Is(err, orchestrator.ErrEmptyQuery), errors.Is(err, orchestrator.ErrEmptyQuestion),
		errors.Is(err, orchestrator.ErrUnknownOverride):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

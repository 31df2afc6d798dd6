package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/ledger"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/orchestrator"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/ws"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	svc *orchestrator.Service,
	ledgerStore *ledger.Store,
	maxStreams int,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	streams := ws.NewHandler(ws.HandlerConfig{
		Streamer:      svc,
		MaxConcurrent: maxStreams,
		OnError:       writeServiceError,
	})
	healthH := NewHealthHandler(svc)
	sessionH := NewSessionHandler(svc, streams)
	chatH := NewChatHandler(svc)
	ledgerH := NewLedgerHandler(ledgerStore)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Get("/ws/sessions/{id}/logs", streams.ServeHTTP)

		r.Route("/api/sessions", func(r chi.Router) {
			r.Post("/", sessionH.Create)
			r.Get("/{id}", sessionH.Status)
			r.Delete("/{id}", sessionH.Dispose)
			r.Post("/{id}/research", sessionH.Research)
			r.Post("/{id}/confirm", sessionH.Confirm)
			r.Get("/{id}/logs", sessionH.Logs)
			r.Get("/{id}/download", sessionH.Download)
		})

		r.Post("/api/chat", chatH.Ask)
		r.Get("/api/engines", chatH.Engines)

		r.Route("/api/ledger/sessions", func(r chi.Router) {
			r.Get("/", ledgerH.Sessions)
			r.Get("/{id}", ledgerH.Session)
			r.Get("/{id}/runs/{runId}", ledgerH.Run)
		})
	})

	return r
}

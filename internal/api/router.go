package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// State reads are open: dashboards poll these without credentials.
		r.Get("/state", s.handleGetState)
		r.Get("/topology", s.handleGetTopology)

		// WebSocket state stream (read-only, no auth)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes: preemption commands and history queries
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/evp", func(r chi.Router) {
				r.Post("/start", s.handleEvpStart)
				r.Post("/clear", s.handleEvpClear)
			})

			r.Route("/history", func(r chi.Router) {
				r.Get("/phases", s.handleListPhaseHistory)
				r.Get("/evp", s.handleListEvpHistory)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"mode":    s.topo.Mode(),
	})
}

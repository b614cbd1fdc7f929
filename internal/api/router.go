package api

import (
	"net/http"
	"time"

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

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// Identity provider sign-in (404 unless security.sign_in is configured)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/google", s.handleLogin)

		// Dev-only login (404 unless security.dev_tokens is set)
		r.Post("/auth/test", s.handleTestLogin)

		// WebSocket (auth via token query parameter, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Get("/users", s.handleListUsers)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleClaimDevice)

				r.Route("/{deviceId}", func(r chi.Router) {
					r.Delete("/", s.handleRemoveDevice)
					r.Post("/control", s.handleControlDevice)
					r.Post("/share", s.handleShareDevice)
					r.Get("/history", s.handleDeviceHistory)
					r.Get("/activity", s.handleDeviceActivity)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	mqttUp := s.broker != nil && s.broker.IsConnected()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"mqtt":      mqttUp,
		"timestamp": time.Now().UTC(),
		"version":   s.version,
	})
}

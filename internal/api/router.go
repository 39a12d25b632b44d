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
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Relay outputs
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Post("/switch", s.handleSwitchDevice)
			})
		})

		// Dimmer zones
		r.Route("/dimmers", func(r chi.Router) {
			r.Get("/", s.handleListDimmers)
			r.Post("/", s.handleCreateDimmer)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteDimmer)
				r.Put("/level", s.handleSetDimmerLevel)
			})
		})

		// Raw command passthrough
		r.Post("/command", s.handleCommand)
	})

	return r
}

// handleHealth returns a health snapshot: process identity, controller
// session, and pipeline counters.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"queue_depth":    s.dispatcher.QueueDepth(),
		"devices":        len(s.engine.Devices()),
		"dimmers":        len(s.engine.Dimmers().Zones()),
	}

	if s.conn != nil {
		controller := map[string]any{
			"connected": s.conn.IsConnected(),
			"endpoint":  s.conn.Endpoint(),
		}
		if since := s.conn.ConnectedSince(); !since.IsZero() {
			controller["connected_since"] = since.UTC()
		}
		resp["controller"] = controller
		resp["statistics"] = s.conn.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}

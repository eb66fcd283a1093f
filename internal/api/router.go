package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/navisrobotics/navis-core/internal/registry"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{id}", s.handleGetDevice)
		})

		r.Get("/registrations", s.handleListRegistrations)
	})

	return r
}

// handleHealth returns the server health status plus the state of each
// attached dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.HealthCheck(r.Context()); err != nil {
			components[name] = err.Error()
			status = "degraded"
		} else {
			components[name] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

// handleListDevices returns every live device, sorted by device id.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.Active()
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceID < devices[j].DeviceID
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device by id, live or recently evicted.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	desc, ok := s.registry.Get(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// handleListRegistrations returns the persistent registration log.
func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeNotFound(w, "registration store not enabled")
		return
	}
	regs, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list registrations", "error", err)
		writeInternalError(w, "failed to list registrations")
		return
	}
	if regs == nil {
		regs = []registry.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registrations": regs,
		"count":         len(regs),
	})
}

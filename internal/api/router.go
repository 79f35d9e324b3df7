package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter wires the LAN command endpoints.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.observe)
	r.Use(middleware.RequestSize(maxBodyBytes))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/execute", s.handleExecute)
	r.Get("/devices/{id}/history", s.handleHistory)
	r.Get("/ws", s.handleWebSocket)

	return r
}

// healthTimeout bounds each dependency probe.
const healthTimeout = 2 * time.Second

// HealthResponse is the body of GET /health. Status is "degraded", and the
// response code 503, when any check fails.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Devices   int               `json:"devices"`
	Clients   int               `json:"ws_clients"`
	UptimeSec int64             `json:"uptime_seconds"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.startTime
	s.mu.Unlock()

	resp := HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Devices:   len(s.local.Devices()),
		Clients:   s.clientCount(),
		UptimeSec: int64(time.Since(started).Seconds()),
	}
	status := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	respond(w, status, resp)
}

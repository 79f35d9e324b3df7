package api

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// handleMetrics writes the process and service counters in Prometheus text
// format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.set.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	hub := s.hub
	s.mu.Unlock()
	if hub == nil {
		return 0
	}
	return hub.ClientCount()
}

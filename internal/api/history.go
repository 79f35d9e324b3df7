package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-homesync/internal/device"
)

const maxDeviceIDLen = 256

// HistoryResponse is the body of GET /devices/{id}/history.
type HistoryResponse struct {
	DeviceID string                `json:"device_id"`
	History  []device.HistoryEntry `json:"history"`
	Count    int                   `json:"count"`
}

// handleHistory lists committed states of a locally registered device.
//
// Query parameters:
//   - limit: positive integer, clamped to device.MaxHistoryLimit
//   - since: RFC 3339 timestamp; only later entries are returned
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxDeviceIDLen {
		fail(w, http.StatusBadRequest, CodeBadRequest, "invalid device ID")
		return
	}

	q, err := historyQuery(r)
	if err != nil {
		fail(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	if _, ok := s.local.Lookup(id); !ok {
		fail(w, http.StatusNotFound, CodeNotFound, "device not registered for local execution")
		return
	}
	if s.history == nil {
		fail(w, http.StatusServiceUnavailable, CodeUnavailable, "state history disabled")
		return
	}

	entries, err := s.history.Entries(r.Context(), id, q)
	if err != nil {
		s.logger.Error("loading device history", "device_id", id, "error", err)
		fail(w, http.StatusInternalServerError, CodeInternal, "failed to load device history")
		return
	}
	if entries == nil {
		entries = []device.HistoryEntry{}
	}

	respond(w, http.StatusOK, HistoryResponse{DeviceID: id, History: entries, Count: len(entries)})
}

func historyQuery(r *http.Request) (device.HistoryQuery, error) {
	var q device.HistoryQuery
	values := r.URL.Query()

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = min(n, device.MaxHistoryLimit)
	}
	if raw := values.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, errors.New("since must be an RFC 3339 timestamp")
		}
		q.Since = since
	}
	return q, nil
}

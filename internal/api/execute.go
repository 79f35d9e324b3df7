package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-logic-homesync/internal/device"
)

// RequestTypeExecute is the only request type the command server accepts.
const RequestTypeExecute = "EXECUTE"

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Type     string         `json:"type"`
	DeviceID string         `json:"deviceId"`
	Command  string         `json:"command"`
	Params   map[string]any `json:"params"`
}

// ExecuteError is the body returned by POST /execute when the command fails.
// A successful command returns the device state itself as the body.
type ExecuteError struct {
	ErrorCode string `json:"errorCode"`
}

// handleExecute runs a command against a locally registered device.
// Outcomes, failures included, are reported in the body with 200 OK.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("invalid execute request", "error", err)
		respond(w, http.StatusOK, ExecuteError{ErrorCode: device.CodeProtocolError})
		return
	}
	if (req.Type != "" && req.Type != RequestTypeExecute) || req.DeviceID == "" || req.Command == "" {
		respond(w, http.StatusOK, ExecuteError{ErrorCode: device.CodeProtocolError})
		return
	}

	state, err := s.local.Execute(r.Context(), req.DeviceID, req.Command, req.Params)
	if err != nil {
		respond(w, http.StatusOK, ExecuteError{ErrorCode: device.ErrorCode(err)})
		return
	}
	if state == nil {
		state = device.State{}
	}
	respond(w, http.StatusOK, state)
}

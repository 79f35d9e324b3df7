package api

import (
	"encoding/json"
	"net/http"
)

// Error codes of the non-execute endpoints. POST /execute answers with
// device command codes instead.
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeInternal    = "internal_error"
	CodeUnavailable = "service_unavailable"
)

// Problem is the error body of the non-execute endpoints.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
	}
}

func fail(w http.ResponseWriter, status int, code, message string) {
	respond(w, status, Problem{Code: code, Message: message})
}

// Package httpapi provides the HTTP server component and the uniform
// response envelope every endpoint uses.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorBody is the uniform failure envelope. Every non-2xx response
// carries it.
type ErrorBody struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Status  int      `json:"status"`
	Hint    string   `json:"hint,omitempty"`
	Gate    string   `json:"gate,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

// WriteJSON writes a 2xx JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// WriteError writes the failure envelope.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteErrorBody(w, ErrorBody{Error: msg, Status: status})
}

// WriteErrorHint writes the failure envelope with a hint.
func WriteErrorHint(w http.ResponseWriter, status int, msg, hint string) {
	WriteErrorBody(w, ErrorBody{Error: msg, Status: status, Hint: hint})
}

// WriteErrorBody writes a fully specified failure envelope.
func WriteErrorBody(w http.ResponseWriter, body ErrorBody) {
	body.Success = false
	if body.Status == 0 {
		body.Status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.Status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to encode error response", "error", err)
	}
}

// DecodeJSON decodes a request body with unknown fields tolerated, capped
// at 1 MiB.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

// Package httpapi implements the HTTP control API: outbound call
// initiation, call status, device personality query, and the static/audio
// file surfaces.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shaike1/claude-phone/internal/errs"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// writeJSON writes status and v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encoding json response failed", "error", err)
	}
}

// errorBody is the shape of every non-2xx JSON response.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeError writes a {success:false, error} body at status.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Success: false, Error: message})
}

// writeErrKind maps one of the internal/errs sentinel kinds to its HTTP
// status and writes the error body. Unrecognized errors map to 500 and
// never leak their underlying message.
func writeErrKind(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service not ready")
	case errors.Is(err, errs.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "operation timed out")
	default:
		slog.Error("httpapi: unhandled internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// readJSON decodes r's body into v, rejecting unknown fields and bodies
// over maxRequestBodySize. Returns a caller-facing message on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) string {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return "request body is required"
		}
		return "request body is not valid JSON: " + err.Error()
	}
	if dec.More() {
		return "request body must contain a single JSON object"
	}
	return ""
}

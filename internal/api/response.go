package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/logger"
)

// respondJSON writes a JSON response with the given status code and data.
// If data is nil, only the status code and Content-Type header are written.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondValidationErrors writes a 400 response with a list of validation error details.
func respondValidationErrors(w http.ResponseWriter, details []string) {
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation_failed",
		"details": details,
	})
}

// respondErr maps a service error to its status. Only the public message of
// a classified error reaches the client; server-side failures are logged
// with their cause.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperror.KindOf(err)
	status := kind.HTTPStatus()

	if kind == apperror.Validation {
		var ae *apperror.Error
		if errors.As(err, &ae) && ae.Err != nil {
			respondValidationErrors(w, strings.Split(ae.Err.Error(), "\n"))
			return
		}
	}

	if status >= http.StatusInternalServerError {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Msg("request failed")
	}
	if kind == apperror.Unavailable {
		w.Header().Set("Retry-After", "30")
	}
	respondError(w, status, apperror.PublicMessage(err))
}

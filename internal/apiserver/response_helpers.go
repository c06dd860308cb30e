package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/logging"
)

// Package-level logger
var logger = logging.NewLogger("apiserver")

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON safely writes JSON response with proper error handling
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	// Marshal first so a failure can still change the status
	jsonData, err := json.Marshal(data)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "encoding_error", "Failed to encode response")
		logger.Errorf("JSON encoding error: %v, data: %+v", err, data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(jsonData); err != nil {
		logger.Errorf("Failed to write response body: %v", err)
	}
}

// WriteError writes a structured error response
func WriteError(w http.ResponseWriter, status int, code string, message string) {
	response := ErrorResponse{
		Error:   code,
		Message: message,
	}

	jsonData, err := json.Marshal(response)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error: failed to encode error response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(jsonData)
}

// WriteDomainError maps err's kind to an HTTP status and error code
func WriteDomainError(w http.ResponseWriter, err error) {
	status, code := StatusForError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Errorf("Request failed: %v", err)
	}
	WriteError(w, status, code, err.Error())
}

// StatusForError returns the HTTP status and error code for err
func StatusForError(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	}

	switch interfaces.KindOf(err) {
	case interfaces.KindTargetBusy:
		return http.StatusConflict, "target_busy"
	case interfaces.KindNotFound:
		return http.StatusNotFound, "not_found"
	case interfaces.KindInvalidInput:
		return http.StatusBadRequest, "invalid_input"
	case interfaces.KindQueueUnavailable:
		return http.StatusServiceUnavailable, "queue_unavailable"
	case interfaces.KindAuthentication:
		return http.StatusUnauthorized, "invalid_signature"
	case interfaces.KindStaging:
		return http.StatusUnprocessableEntity, "staging_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sagarc03/splice"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// HandleError writes appropriate error response based on error type
func HandleError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, splice.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "Object not found")
	case errors.Is(err, splice.ErrPathUnsafe):
		WriteError(w, http.StatusBadRequest, "invalid_path", "Invalid object name")
	case errors.Is(err, splice.ErrInvalidRange):
		WriteError(w, http.StatusBadRequest, "invalid_range", "Invalid chunk range")
	case errors.Is(err, splice.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.As(err, &maxBytes):
		WriteError(w, http.StatusRequestEntityTooLarge, "chunk_too_large", "Chunk exceeds size limit")
	case errors.Is(err, splice.ErrIncomplete):
		WriteError(w, http.StatusConflict, "incomplete", "Upload is not complete")
	case errors.Is(err, splice.ErrStorageUnavailable):
		slog.Error("request error", "error", err)
		WriteError(w, http.StatusServiceUnavailable, "storage_unavailable", "Storage unavailable")
	default:
		slog.Error("request error", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

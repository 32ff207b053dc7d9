package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ignatij/flowmetrics/internal/log"
	"github.com/ignatij/flowmetrics/pkg/metrics"
	"github.com/ignatij/flowmetrics/pkg/service"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/pkg/errors"
)

const (
	codeValidation    = "validation_error"
	codeInvalidWindow = "invalid_window"
	codeNotFound      = "not_found"
	codeConflict      = "conflict"
	codeUnavailable   = "unavailable"
	codeInternal      = "internal_error"
)

// ErrorBody is the JSON error envelope of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message, Field: field}})
}

// writeValidationError reports the first failed field of a validator error.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		writeError(w, http.StatusBadRequest, codeValidation, fieldMessage(fe), fe.Field())
		return
	}
	writeError(w, http.StatusBadRequest, codeValidation, err.Error(), "")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "datetime":
		return fe.Field() + " must be a date formatted as " + fe.Param()
	case "min", "lte", "gte":
		return fe.Field() + " is out of range"
	}
	return fe.Field() + " is invalid"
}

// writeServiceError maps service and storage errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, metrics.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, codeInvalidWindow, err.Error(), "start")
	case storage.IsNotFound(err):
		writeError(w, http.StatusNotFound, codeNotFound, "workflow not found", "")
	case errors.Is(err, storage.ErrAlreadyExists):
		writeError(w, http.StatusConflict, codeConflict, "workflow already registered", "id")
	case errors.Is(err, service.ErrSnapshotsDisabled):
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error(), "")
	default:
		log.GetLogger().Errorf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error", "")
	}
}

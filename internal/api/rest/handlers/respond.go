package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/validator"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// ChangedResponse reports whether a state-changing call had an effect
type ChangedResponse struct {
	Changed bool `json:"changed"`
}

// CountResponse reports how many records a bulk call touched
type CountResponse struct {
	Count int `json:"count"`
}

// RespondJSON writes a JSON response
func RespondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response
func RespondError(w http.ResponseWriter, statusCode int, message string) {
	RespondJSON(w, statusCode, ErrorResponse{Error: message})
}

// RespondValidationError writes a 400 carrying per-field messages
func RespondValidationError(w http.ResponseWriter, err error) {
	RespondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Validation failed",
		Details: validator.Messages(err),
	})
}

// RespondServiceError maps service errors onto HTTP statuses
func RespondServiceError(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		RespondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid action params", Details: verr.Errors})
	case errors.Is(err, engine.ErrUnknownAction):
		RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrInvalidScheduleSpec):
		RespondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid schedule", Details: []string{err.Error()}})
	case errors.Is(err, models.ErrNotFound):
		RespondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, models.ErrInvalidTransition):
		RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Error("Request failed", logger.String("operation", op), logger.Err(err))
		RespondError(w, http.StatusInternalServerError, "Failed to "+op)
	}
}

// decodeJSON decodes the request body into dst. Services validate what they receive.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// decodeAndValidate decodes the request body into dst and validates its struct tags
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if !decodeJSON(w, r, dst) {
		return false
	}
	if err := validator.Validate(dst); err != nil {
		RespondValidationError(w, err)
		return false
	}
	return true
}

// queryInt parses an integer query parameter, returning def when absent
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// queryString returns a pointer to a non-empty query parameter
func queryString(r *http.Request, name string) *string {
	if v := r.URL.Query().Get(name); v != "" {
		return &v
	}
	return nil
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/golang/glog"

	"slidecollab/internal/models"
)

// Response is the body of every JSON endpoint that reports an outcome
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		glog.Errorf("Failed to write response: %v", err)
	}
}

// respondError answers with the user-visible message of err and the status
// matching its category
func respondError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		glog.Errorf("Request failed: %v", err)
	} else {
		glog.V(1).Infof("Request refused: %v", err)
	}
	respondJSON(w, status, Response{
		Success: false,
		Message: models.UserMessage(err),
	})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidFormat), errors.Is(err, models.ErrEncoding):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrLastSlide):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.ErrInvalidFormat
	}
	return nil
}

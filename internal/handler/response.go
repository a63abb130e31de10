package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/dispatch"
	"ridetrack/internal/repository"
	"ridetrack/internal/tracking"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps domain errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, tracking.ErrSessionNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, dispatch.ErrInvalidLocation),
		errors.Is(err, dispatch.ErrInvalidDriverID),
		errors.Is(err, dispatch.ErrInvalidCapacity),
		errors.Is(err, tracking.ErrInvalidBookingStatus),
		errors.Is(err, tracking.ErrDriverMismatch):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, tracking.ErrBookingTerminal),
		errors.Is(err, tracking.ErrDriverNotAssigned),
		errors.Is(err, tracking.ErrSessionEnded),
		errors.Is(err, tracking.ErrNoPosition):
		return http.StatusConflict

	// Service unavailable
	case errors.Is(err, dispatch.ErrIndexUnavailable):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

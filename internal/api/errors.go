package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/solar-controller-core/internal/coordinator"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeUnauthorized      = "unauthorised"
	ErrCodeForbidden         = "forbidden"
	ErrCodeInternal          = "internal_error"
	ErrCodeInvalidClaim      = "invalid_claim"
	ErrCodeAlreadyLinked     = "already_linked"
	ErrCodeDispatchFailed    = "dispatch_failed"
	ErrCodeSignInUnavailable = "sign_in_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// coordinatorError maps a coordinator error to its response status, code
// and message. Anything unrecognised is a 500.
func coordinatorError(err error) (int, string, string) {
	switch {
	case errors.Is(err, coordinator.ErrInvalidClaim):
		return http.StatusBadRequest, ErrCodeInvalidClaim, "invalid confirmation code or device not found"
	case errors.Is(err, coordinator.ErrAlreadyLinked):
		return http.StatusBadRequest, ErrCodeAlreadyLinked, "user already has access to this device"
	case errors.Is(err, coordinator.ErrInvalidCommand):
		return http.StatusBadRequest, ErrCodeBadRequest, "command is required"
	case errors.Is(err, coordinator.ErrAccessDenied):
		return http.StatusForbidden, ErrCodeForbidden, "access denied"
	case errors.Is(err, coordinator.ErrTargetNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "user not found, they need to register first"
	case errors.Is(err, coordinator.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "not found"
	case errors.Is(err, coordinator.ErrDispatchFailed):
		return http.StatusBadGateway, ErrCodeDispatchFailed, "failed to send command"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
	}
}

// errorStatus returns the HTTP status a coordinator error maps to.
func errorStatus(err error) int {
	status, _, _ := coordinatorError(err)
	return status
}

// writeCoordinatorError writes the response for a coordinator error.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	status, code, message := coordinatorError(err)
	writeError(w, status, code, message)
}

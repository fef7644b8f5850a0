package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/pomo-api/internal/api/shared"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/service/auth"
	"github.com/phrazzld/pomo-api/internal/session"
	"github.com/phrazzld/pomo-api/internal/store"
)

// ErrUnauthenticated is returned when a request reaches a handler without
// an authenticated user.
var ErrUnauthenticated = errors.New("authentication required")

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing the errors themselves.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrAlreadyRunning):
		return http.StatusConflict

	case errors.Is(err, session.ErrPersistenceFailure),
		errors.Is(err, session.ErrEngineClosed):
		return http.StatusServiceUnavailable

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidInterruption),
		errors.Is(err, domain.ErrInvalidSessionStatus),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, ErrUnauthenticated):
		return "Authentication required"
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "Session not found"
	case errors.Is(err, session.ErrAlreadyRunning):
		return "Session already running"
	case errors.Is(err, session.ErrInvalidTransition):
		return "Command not allowed in the session's current state"
	case errors.Is(err, session.ErrEngineClosed):
		return "Server is shutting down"
	case errors.Is(err, session.ErrPersistenceFailure):
		return "Session state could not be saved"
	case errors.Is(err, domain.ErrInvalidDuration):
		return "Invalid duration"
	case errors.Is(err, domain.ErrInvalidInterruption):
		return "Invalid interruption"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, store.ErrInvalidEntity):
		return "Validation error"
	default:
		return "An unexpected error occurred"
	}
}

// ErrorCode returns the machine-readable code pushed to websocket clients.
func ErrorCode(err error) string {
	switch MapErrorToStatusCode(err) {
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		if errors.Is(err, session.ErrAlreadyRunning) {
			return "ALREADY_RUNNING"
		}
		return "INVALID_TRANSITION"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	default:
		return "INTERNAL"
	}
}

// PushErrorCoder reports subscription errors on the push socket with the
// same codes and messages as the HTTP API.
func PushErrorCoder(err error) (string, string) {
	return ErrorCode(err), GetSafeErrorMessage(err)
}

// HandleAPIError writes the status and sanitized message for err.
// A non-empty fallback replaces the generic message on 500s.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError turns validator errors into a short message that
// names the field and rule without echoing input values.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("Invalid %s: %s", fe.Field(), validationTagMessage(fe.Tag())))
	}
	return strings.Join(parts, "; ")
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "uuid":
		return "must be a UUID"
	case "gt", "gte", "min":
		return "too small"
	case "lte", "max":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

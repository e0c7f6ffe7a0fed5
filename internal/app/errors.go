package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"quill/api/internal/ai"
	"quill/api/internal/auth"
	"quill/api/internal/authpw"
	"quill/api/internal/content"
	"quill/api/internal/export"
	"quill/api/internal/media"
	"quill/api/internal/session"
	"quill/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func conflict(message string, details any) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, details)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

// mapError translates service and library errors to an HTTP status and the
// error envelope fields. Unknown errors become a 500; the caller logs them.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrConflict):
		var constraint *store.ConstraintError
		if errors.As(err, &constraint) && constraint.Constraint != "" {
			return http.StatusConflict, "CONFLICT", "Resource conflicts with existing data", map[string]any{"constraint": constraint.Constraint}
		}
		return http.StatusConflict, "CONFLICT", "Resource conflicts with existing data", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error(), nil
	case errors.Is(err, authpw.ErrInactiveUser):
		return http.StatusForbidden, "ACCOUNT_DISABLED", err.Error(), nil
	case errors.Is(err, authpw.ErrWeakPassword), errors.Is(err, authpw.ErrInvalidResetToken), errors.Is(err, authpw.ErrWrongPassword):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, content.ErrInvalidTransition), errors.Is(err, content.ErrScheduleInPast), errors.Is(err, content.ErrUnknownStatus):
		return http.StatusUnprocessableEntity, "INVALID_TRANSITION", err.Error(), nil
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error(), nil
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrEmptyUpload):
		return http.StatusUnprocessableEntity, "INVALID_FILE", err.Error(), nil
	case errors.Is(err, media.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, ai.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, ai.ErrAIUnavailable):
		return http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI service is not available", nil
	case errors.Is(err, ai.ErrAIRateLimited):
		return http.StatusTooManyRequests, "AI_RATE_LIMITED", "AI provider rate limit reached, try again shortly", nil
	case errors.Is(err, ai.ErrAIAuth):
		return http.StatusBadGateway, "AI_AUTH", "AI provider rejected the configured credentials", nil
	case errors.Is(err, ai.ErrBadResponse):
		return http.StatusBadGateway, "AI_BAD_RESPONSE", "AI provider returned an unusable response", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

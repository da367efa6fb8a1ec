package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// FieldError describes a single validation failure tied to a field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Status  int          `json:"status"`
	Details []FieldError `json:"details,omitempty"`
	Err     error        `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid username or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// Registration lifecycle errors.
	ErrRoleNotEligible     = New("ROLE_NOT_ELIGIBLE", http.StatusUnprocessableEntity, "participant role is not eligible for registration")
	ErrAlreadyRegistered   = New("ALREADY_REGISTERED", http.StatusConflict, "participant already registered for event")
	ErrCapacityExceeded    = New("CAPACITY_EXCEEDED", http.StatusConflict, "event capacity exceeded")
	ErrInvalidTransition   = New("INVALID_TRANSITION", http.StatusConflict, "registration status transition not allowed")
	ErrPermissionDenied    = New("PERMISSION_DENIED", http.StatusForbidden, "actor is not allowed to perform this operation")
	ErrNotEligible         = New("NOT_ELIGIBLE", http.StatusUnprocessableEntity, "registration is not eligible for a certificate")
	ErrInvalidValidityDate = New("INVALID_VALIDITY_DATE", http.StatusBadRequest, "certificate validity date must be after the event end date")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of the error carrying field-level detail.
func WithDetails(err *Error, details ...FieldError) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = append([]FieldError(nil), details...)
	return &clone
}

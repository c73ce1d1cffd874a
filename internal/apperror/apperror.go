package apperror

import (
	"errors"
	"net/http"
)

type Error struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

var (
	ErrValidationFailed = &Error{
		Code:       "validation_failed",
		Message:    "The request is invalid",
		StatusCode: http.StatusBadRequest,
	}

	ErrPayloadTooLarge = &Error{
		Code:       "payload_too_large",
		Message:    "The declared file size exceeds the maximum allowed",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrUnsupportedMediaType = &Error{
		Code:       "unsupported_media_type",
		Message:    "This file type is not supported",
		StatusCode: http.StatusUnsupportedMediaType,
	}

	ErrTicketInvalidFormat = &Error{
		Code:       "ticket_invalid_format",
		Message:    "The upload ticket is malformed",
		StatusCode: http.StatusBadRequest,
	}

	ErrMissingTicket = &Error{
		Code:       "missing_ticket",
		Message:    "No upload ticket found for this request",
		StatusCode: http.StatusNotFound,
	}

	ErrTicketExpired = &Error{
		Code:       "ticket_expired",
		Message:    "The upload ticket has expired",
		StatusCode: http.StatusGone,
	}

	ErrUnauthenticated = &Error{
		Code:       "unauthenticated",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &Error{
		Code:       "forbidden",
		Message:    "You don't have permission to use this ticket",
		StatusCode: http.StatusForbidden,
	}

	ErrUnknownCategory = &Error{
		Code:       "unknown_category",
		Message:    "The referenced category does not exist",
		StatusCode: http.StatusBadRequest,
	}

	ErrUpstreamUnavailable = &Error{
		Code:       "upstream_unavailable",
		Message:    "A dependent service is temporarily unavailable. Please retry",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrInternal = &Error{
		Code:       "internal_error",
		Message:    "An unexpected error occurred. Please try again later",
		StatusCode: http.StatusInternalServerError,
	}
)

func New(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		Internal:   err,
	}
}

func WrapWithMessage(err error, code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func SafeMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

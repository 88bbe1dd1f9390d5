package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorCode identifies the kind of failure independently of its message.
type ErrorCode string

// AppError represents an application error
type AppError struct {
	Code       ErrorCode  `json:"code"`
	Message    string     `json:"message"`
	ConflictID *uuid.UUID `json:"conflict_id,omitempty"`
	Err        error      `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another *AppError by code, so errors.Is(err, &AppError{Code: X}) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

const (
	CodeValidation           ErrorCode = "validation"
	CodeOverlap              ErrorCode = "overlap"
	CodeInvalidCredentials   ErrorCode = "invalid_credentials"
	CodeInvalidToken         ErrorCode = "invalid_token"
	CodeExpired              ErrorCode = "expired"
	CodeUnknownSubject       ErrorCode = "unknown_subject"
	CodeInvalidProviderToken ErrorCode = "invalid_provider_token"
	CodeDuplicateIdentity    ErrorCode = "duplicate_identity"
	CodeNotFound             ErrorCode = "not_found"
	CodeUnauthenticated      ErrorCode = "unauthenticated"
	CodeForbidden            ErrorCode = "forbidden"
	CodeConflict             ErrorCode = "conflict"
	CodeUnavailable          ErrorCode = "unavailable"
	CodeInternal             ErrorCode = "internal"
)

func New(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func Validation(message string) *AppError {
	return New(CodeValidation, message, nil)
}

// Overlap reports that the requested slot intersects the appointment conflictID.
// uuid.Nil means the conflicting appointment is not known.
func Overlap(conflictID uuid.UUID) *AppError {
	if conflictID == uuid.Nil {
		return New(CodeOverlap, "time slot overlaps an existing appointment", nil)
	}
	id := conflictID
	return &AppError{
		Code:       CodeOverlap,
		Message:    fmt.Sprintf("time slot overlaps existing appointment (id=%s)", conflictID),
		ConflictID: &id,
	}
}

func InvalidCredentials() *AppError {
	return New(CodeInvalidCredentials, "invalid email or password", nil)
}

func InvalidToken(err error) *AppError {
	return New(CodeInvalidToken, "invalid token", err)
}

func Expired(err error) *AppError {
	return New(CodeExpired, "token expired", err)
}

func UnknownSubject() *AppError {
	return New(CodeUnknownSubject, "token subject no longer exists", nil)
}

func InvalidProviderToken(err error) *AppError {
	return New(CodeInvalidProviderToken, "invalid identity provider token", err)
}

func DuplicateIdentity(message string, err error) *AppError {
	return New(CodeDuplicateIdentity, message, err)
}

func NotFound(resource string, err error) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), err)
}

func Unauthenticated(message string) *AppError {
	return New(CodeUnauthenticated, message, nil)
}

func Forbidden(message string) *AppError {
	return New(CodeForbidden, message, nil)
}

func Conflict(message string, err error) *AppError {
	return New(CodeConflict, message, err)
}

func Unavailable(err error) *AppError {
	return New(CodeUnavailable, "service temporarily unavailable", err)
}

func Internal(err error) *AppError {
	return New(CodeInternal, "internal server error", err)
}

// As returns the first *AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf classifies err. Context deadlines become CodeUnavailable, anything
// unclassified is CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return CodeUnavailable
	}
	return CodeInternal
}

func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

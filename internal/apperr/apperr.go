// Package apperr carries the engine's typed failures: a coarse Kind used for
// transport mapping plus a stable machine-readable Code per failure.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the failure taxonomy shared by every engine operation.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindRateLimited        Kind = "rate_limited"
	KindOnboardingRequired Kind = "onboarding_required"
	KindCodeSpaceExhausted Kind = "code_space_exhausted"
	KindInternal           Kind = "internal"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInternal     Code = "INTERNAL"
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeBadCode      Code = "INVALID_CODE_FORMAT"
	CodeBadStatus    Code = "INVALID_STATUS"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotMember    Code = "NOT_MEMBER"
	CodeCrewPrivate  Code = "CREW_PRIVATE"
	CodeNotFound     Code = "NOT_FOUND"
	CodeRateLimited  Code = "RATE_LIMITED"

	CodeOnboardingRequired Code = "ONBOARDING_REQUIRED"
	CodeCodeSpaceExhausted Code = "CODE_SPACE_EXHAUSTED"

	// Membership gate
	CodeInviteInvalid     Code = "INVITE_INVALID"
	CodeInviteExpired     Code = "INVITE_EXPIRED"
	CodeInviteExhausted   Code = "INVITE_EXHAUSTED"
	CodeCrewFull          Code = "CREW_FULL"
	CodeAlreadyMember     Code = "ALREADY_MEMBER"
	CodeLeaderCannotLeave Code = "LEADER_CANNOT_LEAVE"

	// Attendance
	CodePhaseFull         Code = "PHASE_FULL"
	CodePhaseEnded        Code = "PHASE_ENDED"
	CodeNotWaiting        Code = "NOT_WAITING"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeAlreadyCheckedIn  Code = "ALREADY_CHECKED_IN"
	CodeNotCheckedIn      Code = "NOT_CHECKED_IN"
	CodeAlreadyCheckedOut Code = "ALREADY_CHECKED_OUT"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Kind     Kind
	Code     Code
	Message  string            // human-readable, not localized
	Metadata map[string]string // extra context for the caller
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithMetadata creates a domain error carrying metadata.
func WithMetadata(kind Kind, code Code, message string, metadata map[string]string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Internal wraps a storage or infrastructure failure. These are the only
// failures a caller may retry.
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, CodeInternal, message, cause)
}

func Validation(code Code, message string) *Error {
	return New(KindValidation, code, message)
}

func Conflict(code Code, message string) *Error {
	return New(KindConflict, code, message)
}

func Forbidden(code Code, message string) *Error {
	return New(KindForbidden, code, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, CodeNotFound, message)
}

// As extracts the domain error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the machine code of err, CodeInternal for foreign errors and
// "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// KindOf returns the taxonomy kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same request.
// Precondition failures are deterministic and never retryable.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindInternal, KindRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to the status code used by the HTTP layer.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden, KindOnboardingRequired:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCodeSpaceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

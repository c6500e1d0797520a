// Package errors provides coded errors for the approvals service. Every
// rejection carries a stable code plus the ids needed for the calling layer
// to render an actionable message; nothing is collapsed into a generic failure.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode identifies the category of a failure.
type ErrCode string

const (
	ErrCodeInternal     ErrCode = "INTERNAL"
	ErrCodeNotFound     ErrCode = "NOT_FOUND"
	ErrCodeInvalidInput ErrCode = "INVALID_INPUT"
	ErrCodeConflict     ErrCode = "CONFLICT"
	ErrCodeUnauthorized ErrCode = "UNAUTHORIZED"

	// Configuration errors — fatal to Submit, never retried.
	ErrCodeNoMatchingConfiguration ErrCode = "NO_MATCHING_CONFIGURATION"
	ErrCodeMisconfiguredApprovers  ErrCode = "MISCONFIGURED_APPROVERS"

	// State errors — rejected synchronously, caller decides UX.
	ErrCodeAlreadyResolved       ErrCode = "REQUEST_ALREADY_RESOLVED"
	ErrCodeExpired               ErrCode = "REQUEST_EXPIRED"
	ErrCodeSelfApprovalForbidden ErrCode = "SELF_APPROVAL_FORBIDDEN"
	ErrCodeJustificationRequired ErrCode = "JUSTIFICATION_REQUIRED"
	ErrCodeNotEligible           ErrCode = "APPROVER_NOT_ELIGIBLE"
	ErrCodeDuplicateDecision     ErrCode = "DUPLICATE_DECISION"

	// Concurrency errors — retried internally, surfaced after the retry budget.
	ErrCodeConcurrentModification ErrCode = "CONCURRENT_MODIFICATION"

	// Delegation errors — rejected synchronously, never silently ignored.
	ErrCodeDelegationCycle   ErrCode = "DELEGATION_CYCLE"
	ErrCodeDelegationTooDeep ErrCode = "DELEGATION_TOO_DEEP"
	ErrCodeDelegationInvalid ErrCode = "DELEGATION_INVALID"

	// Integrity errors — reported as data-integrity alerts, never auto-corrected.
	ErrCodeIntegrity ErrCode = "INTEGRITY_VIOLATION"
)

// Error is a coded error with optional structured details.
type Error struct {
	Code    ErrCode
	Message string
	Details map[string]string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error.
func New(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a code and message.
func Wrap(err error, code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: map[string]string{"resource": resource, "id": id},
	}
}

// InvalidInput reports a bad request field.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidInput,
		Message: message,
		Details: map[string]string{"field": field},
	}
}

// WithDetail attaches one structured detail and returns the same error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string, 1)
	}
	e.Details[key] = value
	return e
}

// Code extracts the ErrCode from any error, defaulting to ErrCodeInternal.
func Code(err error) ErrCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// From extracts the coded error from any error chain.
func From(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrCode) bool {
	return err != nil && Code(err) == code
}

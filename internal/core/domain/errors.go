// Package domain defines the core domain models for snapfn.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure at the invocation boundary. The kind is what
// callers see in the "errorType" field of a failed outcome.
type Kind string

// Failure kinds.
const (
	KindDecodeError      Kind = "DecodeError"
	KindUnroutableEvent  Kind = "UnroutableEvent"
	KindTimeout          Kind = "Timeout"
	KindStoreUnavailable Kind = "StoreUnavailable"
	KindVersionConflict  Kind = "VersionConflict"
	KindRestoreFailure   Kind = "RestoreFailure"
	KindNotFound         Kind = "NotFound"
	KindInvalidArgument  Kind = "InvalidArgument"
	KindHandlerError     Kind = "HandlerError"
	KindUnavailable      Kind = "EnvironmentUnavailable"
	KindInternal         Kind = "InternalError"
)

// DomainError represents a runtime or business error with a structured code
// and a boundary-visible kind.
type DomainError struct {
	Code    string // Error code (e.g., "SF-STOR-4090")
	Kind    Kind   // Boundary classification
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison by code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code, kind and message.
func NewDomainError(code string, kind Kind, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// KindOf returns the boundary kind of err. Errors that carry no kind are
// business failures and map to KindHandlerError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	return KindHandlerError
}

// ============================================================================
// Invocation Errors (INVK)
// ============================================================================

var (
	// ErrDecode indicates the raw event could not be decoded.
	ErrDecode = NewDomainError("SF-INVK-4000", KindDecodeError, "malformed event")

	// ErrUnroutable indicates no handler is registered for the event route.
	ErrUnroutable = NewDomainError("SF-INVK-4040", KindUnroutableEvent, "no handler for route")

	// ErrTimeout indicates the handler did not finish before the deadline.
	ErrTimeout = NewDomainError("SF-INVK-5040", KindTimeout, "invocation deadline exceeded")

	// ErrHandler indicates the business handler failed.
	ErrHandler = NewDomainError("SF-INVK-5000", KindHandlerError, "handler failed")

	// ErrEnvironmentUnavailable indicates the execution environment is not ready.
	ErrEnvironmentUnavailable = NewDomainError("SF-INVK-5030", KindUnavailable, "execution environment not ready")
)

// ============================================================================
// Store Errors (STOR)
// ============================================================================

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = NewDomainError("SF-STOR-4040", KindNotFound, "record not found")

	// ErrVersionConflict indicates an optimistic concurrency violation.
	ErrVersionConflict = NewDomainError("SF-STOR-4090", KindVersionConflict, "version conflict, re-read before writing")

	// ErrStoreUnavailable indicates the retry budget against the store is exhausted.
	ErrStoreUnavailable = NewDomainError("SF-STOR-5030", KindStoreUnavailable, "durable store unavailable")

	// ErrStoreTransient marks a backend failure that is worth retrying.
	ErrStoreTransient = NewDomainError("SF-STOR-5031", KindStoreUnavailable, "transient store failure")

	// ErrRecordValidation indicates a record failed validation.
	ErrRecordValidation = NewDomainError("SF-STOR-4001", KindInvalidArgument, "record validation failed")
)

// ============================================================================
// Lifecycle Errors (LIFE)
// ============================================================================

var (
	// ErrRestoreFailure indicates the environment could not be restored.
	// It is fatal to the environment.
	ErrRestoreFailure = NewDomainError("SF-LIFE-5000", KindRestoreFailure, "restore failed")

	// ErrInitFailure indicates cold initialization failed.
	ErrInitFailure = NewDomainError("SF-LIFE-5001", KindInternal, "initialization failed")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("SF-ARG-1001", KindInvalidArgument, "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("SF-ARG-1002", KindInvalidArgument, "missing required argument")
)

package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
// Codes have the form TS-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "TS-TOKN-5021")
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

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
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

// ============================================================================
// Flow Errors (FLOW)
// ============================================================================

var (
	// ErrInvalidState indicates a redirect callback whose anti-forgery state
	// token has no matching stored code verifier.
	ErrInvalidState = NewDomainError("TS-FLOW-4001", "invalid state")

	// ErrFlowExpired indicates the stored code verifier outlived the login attempt.
	ErrFlowExpired = NewDomainError("TS-FLOW-4002", "login attempt expired")
)

// ============================================================================
// Token Exchange Errors (TOKN)
// ============================================================================

var (
	// ErrExchangeFailed indicates the token endpoint did not return a usable token.
	ErrExchangeFailed = NewDomainError("TS-TOKN-5021", "token exchange failed")

	// ErrMalformedTokenResponse indicates a 2xx response that could not be decoded.
	ErrMalformedTokenResponse = NewDomainError("TS-TOKN-5022", "malformed token response")
)

// ============================================================================
// Lock Errors (LOCK)
// ============================================================================

var (
	// ErrExchangeInProgress indicates another tab holds the refresh lock.
	// It is a normal concurrency outcome: the result arrives through the store.
	ErrExchangeInProgress = NewDomainError("TS-LOCK-4091", "exchange in progress elsewhere")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrStorageError indicates a persistent store failure.
	ErrStorageError = NewDomainError("TS-SYS-5001", "storage error")

	// ErrRedirectFailed indicates the redirector could not navigate.
	ErrRedirectFailed = NewDomainError("TS-SYS-5002", "redirect failed")

	// ErrClosed indicates the controller was closed.
	ErrClosed = NewDomainError("TS-SYS-5030", "session controller closed")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("TS-ARG-1001", "invalid argument")

	// ErrInvalidConfig indicates a configuration that cannot be used.
	ErrInvalidConfig = NewDomainError("TS-CFG-1001", "invalid configuration")
)

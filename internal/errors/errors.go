// Package errors provides standardized error codes for the gateway.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (tenant, session, pairing, driver, storage, server, auth)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by API clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that API clients can rely on for error handling.
const (
	// Tenant domain - identifier validation
	CodeTenantInvalidID = "tenant.invalid_id" // Tenant id is empty or not a safe token

	// Session domain - registry and lifecycle
	CodeSessionNotFound     = "session.not_found"     // No live session for the tenant
	CodeSessionInvalidState = "session.invalid_state" // Operation not allowed in the current state
	CodeSessionShuttingDown = "session.shutting_down" // Gateway is shutting down
	CodeSessionLimitReached = "session.limit_reached" // Too many live sessions

	// Pairing domain - pairing payload publication
	CodePairingNotAvailable = "pairing.not_available" // No pairing payload published yet
	CodePairingTimeout      = "pairing.timeout"       // Bounded wait expired without a payload
	CodePairingClosed       = "pairing.closed"        // Session ended while waiting

	// Driver domain - headless client failures
	CodeDriverInitFailed   = "driver.init_failed"   // Driver could not be constructed or initialized
	CodeDriverAuthFailed   = "driver.auth_failed"   // Platform rejected the pairing/credentials
	CodeDriverLogoutFailed = "driver.logout_failed" // Driver logout operation failed
	CodeDriverSendFailed   = "driver.send_failed"   // Driver could not accept an outbound message
	CodeDriverClosed       = "driver.closed"        // Driver already released

	// Storage domain - database and persistence errors
	CodeStorageNotFound    = "storage.not_found"    // Resource not found
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Server domain - HTTP surface errors
	CodeServerInvalidRequest   = "server.invalid_request"    // Malformed request body or parameters
	CodeServerMethodNotAllowed = "server.method_not_allowed" // Wrong HTTP method
	CodeServerRateLimited      = "server.rate_limited"       // Too many requests

	// Auth domain - API client authentication
	CodeAuthRequired = "auth.required" // Authentication required
	CodeAuthInvalid  = "auth.invalid"  // Invalid token

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "session.not_found")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// InvalidTenantID creates a "tenant.invalid_id" error.
func InvalidTenantID(reason string) *CodedError {
	return New(CodeTenantInvalidID, fmt.Sprintf("invalid tenant id: %s", reason))
}

// SessionNotFound creates a "session.not_found" error.
func SessionNotFound(tenantID string) *CodedError {
	return New(CodeSessionNotFound, fmt.Sprintf("no active session for tenant %s", tenantID))
}

// InvalidState creates a "session.invalid_state" error.
// This indicates the requested operation is not allowed while the session
// is in its current lifecycle state.
func InvalidState(tenantID, state, operation string) *CodedError {
	msg := fmt.Sprintf("cannot %s tenant %s in state %s", operation, tenantID, state)
	return New(CodeSessionInvalidState, msg)
}

// ShuttingDown creates a "session.shutting_down" error.
func ShuttingDown() *CodedError {
	return New(CodeSessionShuttingDown, "gateway is shutting down")
}

// PairingNotAvailable creates a "pairing.not_available" error.
func PairingNotAvailable(tenantID string) *CodedError {
	return New(CodePairingNotAvailable, fmt.Sprintf("pairing payload not available for tenant %s", tenantID))
}

// PairingTimeout creates a "pairing.timeout" error.
// This indicates the bounded wait expired before a new payload was published.
func PairingTimeout(tenantID string) *CodedError {
	return New(CodePairingTimeout, fmt.Sprintf("no pairing payload for tenant %s before timeout", tenantID))
}

// PairingClosed creates a "pairing.closed" error.
// This indicates the session ended while a caller was waiting for a payload.
func PairingClosed(tenantID string) *CodedError {
	return New(CodePairingClosed, fmt.Sprintf("session for tenant %s ended while waiting for pairing", tenantID))
}

// DriverInitFailed creates a "driver.init_failed" error.
func DriverInitFailed(tenantID string, cause error) *CodedError {
	return Wrap(CodeDriverInitFailed, fmt.Sprintf("driver initialization failed for tenant %s", tenantID), cause)
}

// DriverLogoutFailed creates a "driver.logout_failed" error.
func DriverLogoutFailed(tenantID string, cause error) *CodedError {
	return Wrap(CodeDriverLogoutFailed, fmt.Sprintf("driver logout failed for tenant %s", tenantID), cause)
}

// DriverSendFailed creates a "driver.send_failed" error.
func DriverSendFailed(tenantID string, cause error) *CodedError {
	return Wrap(CodeDriverSendFailed, fmt.Sprintf("driver could not send message for tenant %s", tenantID), cause)
}

// InvalidRequest creates a "server.invalid_request" error.
func InvalidRequest(reason string) *CodedError {
	return New(CodeServerInvalidRequest, reason)
}

// RateLimited creates a "server.rate_limited" error.
func RateLimited() *CodedError {
	return New(CodeServerRateLimited, "too many requests, try again later")
}

// NotFound creates a "storage.not_found" error.
func NotFound(resource string) *CodedError {
	return New(CodeStorageNotFound, fmt.Sprintf("%s not found", resource))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}

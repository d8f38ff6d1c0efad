// Package errors provides structured error types for jerry-coverage.
// Every failure of the debugger protocol client is reported as a DebugError
// whose Code identifies the error kind, so callers can decide whether to
// abort or report without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Connection errors
	CodeConnectFailed    ErrorCode = "CONNECT_FAILED"
	CodeHandshakeFailed  ErrorCode = "HANDSHAKE_FAILED"
	CodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"

	// Protocol errors
	CodeProtocolVersion   ErrorCode = "PROTOCOL_VERSION_MISMATCH"
	CodeUnexpectedMessage ErrorCode = "UNEXPECTED_MESSAGE"
	CodeUnknownCp         ErrorCode = "UNKNOWN_CP"

	// Coverage file errors
	CodeCoverageIO ErrorCode = "COVERAGE_IO"

	// Run control errors
	CodeRunInProgress ErrorCode = "RUN_IN_PROGRESS"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// DebugError is a structured error type that carries a machine-readable code,
// a readable message and an optional hint on how to recover.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message describes what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the offending pointer or byte)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Connection Errors ---

// ConnectFailed creates an error for a failed TCP connection to the target
func ConnectFailed(address string, err error) *DebugError {
	return &DebugError{
		Code:    CodeConnectFailed,
		Message: fmt.Sprintf("failed to connect to the JerryScript debugger at %s: %v", address, err),
		Hint:    "Check that the target is running with the debugger enabled and listening on the given port (default 5001).",
		Cause:   err,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// HandshakeFailed creates an error for an unexpected upgrade reply
func HandshakeFailed(reason string) *DebugError {
	return &DebugError{
		Code:    CodeHandshakeFailed,
		Message: fmt.Sprintf("unexpected handshake: %s", reason),
		Hint:    "The peer is not a JerryScript debug server, or it speaks a different upgrade dialect.",
	}
}

// ConnectionClosed creates an error for a peer close in a state where the
// session cannot end cleanly
func ConnectionClosed(during string) *DebugError {
	return &DebugError{
		Code:    CodeConnectionClosed,
		Message: fmt.Sprintf("connection closed during %s", during),
		Details: map[string]interface{}{
			"during": during,
		},
	}
}

// --- Protocol Errors ---

// ProtocolVersion creates an error for a debugger protocol version mismatch
func ProtocolVersion(got, expected uint32) *DebugError {
	return &DebugError{
		Code:    CodeProtocolVersion,
		Message: fmt.Sprintf("incorrect debugger version from target: %d expected: %d", got, expected),
		Hint:    "Rebuild the engine or this client so both sides speak the same debugger protocol version.",
		Details: map[string]interface{}{
			"version":  got,
			"expected": expected,
		},
	}
}

// UnexpectedMessage creates an error for a malformed frame or a message that
// is not valid in the current state
func UnexpectedMessage(format string, args ...interface{}) *DebugError {
	return &DebugError{
		Code:    CodeUnexpectedMessage,
		Message: "unexpected message: " + fmt.Sprintf(format, args...),
	}
}

// UnknownCp creates an error for a hit or release that references a
// compressed pointer no committed function owns
func UnknownCp(cp uint32) *DebugError {
	return &DebugError{
		Code:    CodeUnknownCp,
		Message: fmt.Sprintf("unknown byte code pointer: %#x", cp),
		Details: map[string]interface{}{
			"cp": cp,
		},
	}
}

// --- Coverage Errors ---

// CoverageIO creates an error for a coverage file that cannot be read or written
func CoverageIO(path string, err error) *DebugError {
	return &DebugError{
		Code:    CodeCoverageIO,
		Message: fmt.Sprintf("coverage file %s: %v", path, err),
		Hint:    "The file must be a JSON object of the form {\"source\": {\"<line>\": bool}}.",
		Cause:   err,
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// RunInProgress creates an error when a collection run is already active
func RunInProgress(runID string) *DebugError {
	return &DebugError{
		Code:    CodeRunInProgress,
		Message: fmt.Sprintf("coverage run '%s' is still in progress", runID),
		Hint:    "Only one debugger session is supported at a time. Use coverage_status to follow the active run.",
		Details: map[string]interface{}{
			"runId": runID,
		},
	}
}

// --- Parameter Errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Configuration Errors ---

// ConfigInvalid creates an error for an invalid configuration value
func ConfigInvalid(field, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration field '%s' is invalid: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// --- Helpers ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Cause:   err,
	}
}

// IsCode reports whether err, or any error it wraps, is a DebugError with
// the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Package errors provides structured error handling for tidesync.
// It defines sentinel errors, exit codes, and helpers for adding
// context and details to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes for the CLI entrypoint.
const (
	ExitSuccess  = 0 // Successful execution
	ExitGeneral  = 1 // General/unknown error
	ExitInput    = 2 // Invalid input
	ExitNotFound = 4 // Resource not found
)

// SyncError is the structured error type for tidesync.
type SyncError struct {
	Code     string            // Machine-readable error code
	Message  string            // Human-readable message
	Details  map[string]string // Additional context
	Cause    error             // Underlying error
	ExitCode int               // Exit code for CLI
}

func (e *SyncError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for SyncError.
func (e *SyncError) Is(target error) bool {
	var t *SyncError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors. The first four map to the failure taxonomy used by the
// batch executor: transport, server rejection, data/validation, exhaustion.
var (
	ErrTransport = &SyncError{
		Code:     "TRANSPORT_ERROR",
		Message:  "no response from remote endpoint",
		ExitCode: ExitGeneral,
	}

	ErrServerRejected = &SyncError{
		Code:     "SERVER_REJECTED",
		Message:  "request rejected by server",
		ExitCode: ExitGeneral,
	}

	ErrValidation = &SyncError{
		Code:     "VALIDATION_ERROR",
		Message:  "malformed or incomplete payload",
		ExitCode: ExitInput,
	}

	ErrRetriesExhausted = &SyncError{
		Code:     "RETRIES_EXHAUSTED",
		Message:  "retry budget exhausted",
		ExitCode: ExitGeneral,
	}

	ErrRateLimited = &SyncError{
		Code:     "RATE_LIMITED",
		Message:  "rate limited by remote endpoint",
		ExitCode: ExitGeneral,
	}

	ErrUnknownCoin = &SyncError{
		Code:     "UNKNOWN_COIN",
		Message:  "unknown coin identifier",
		ExitCode: ExitInput,
	}

	ErrNotFound = &SyncError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	ErrStoreClosed = &SyncError{
		Code:     "STORE_CLOSED",
		Message:  "record store is closed",
		ExitCode: ExitGeneral,
	}

	ErrSocketClosed = &SyncError{
		Code:     "SOCKET_CLOSED",
		Message:  "websocket connection is closed",
		ExitCode: ExitGeneral,
	}

	ErrReconnectExhausted = &SyncError{
		Code:     "RECONNECT_EXHAUSTED",
		Message:  "websocket reconnect attempts exhausted",
		ExitCode: ExitGeneral,
	}

	ErrConfigNotFound = &SyncError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &SyncError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}
)

// New creates a new SyncError with the given code and message.
func New(code, message string) *SyncError {
	return &SyncError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var se *SyncError
	if errors.As(err, &se) {
		return &SyncError{
			Code:     se.Code,
			Message:  fmt.Sprintf("%s: %s", msg, se.Message),
			Details:  se.Details,
			Cause:    err,
			ExitCode: se.ExitCode,
		}
	}

	return &SyncError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var se *SyncError
	if errors.As(err, &se) {
		return &SyncError{
			Code:     se.Code,
			Message:  se.Message,
			Details:  details,
			Cause:    se.Cause,
			ExitCode: se.ExitCode,
		}
	}

	return &SyncError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// ExitCodeFor returns the exit code for an error, defaulting to ExitGeneral.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.ExitCode
	}
	return ExitGeneral
}

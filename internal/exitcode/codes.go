// Package exitcode defines structured exit codes for flaky commands.
// Scripts driving a CI job can branch on the code instead of parsing
// error text.
//
// # Exit Code Ranges
//
//   - 0: Success
//   - 1-9: General errors (usage, internal, configuration)
//   - 10-19: Resource not found
//   - 40-49: Timeout and launch errors
//   - 50-59: Conflict/state errors
//   - 60-69: Test results
//
// # Usage
//
//	return exitcode.Config("APPIUM_HOME must be set")      // Exit code 4
//	return exitcode.Wrap(exitcode.ErrTimeout, "appium never became ready", err)
//
//	code := exitcode.Code(err)  // Returns ErrGeneral for non-coded errors
package exitcode

import (
	"errors"
	"fmt"
)

const (
	// Success indicates the command completed successfully.
	Success = 0

	// General errors (1-9)
	ErrGeneral  = 1 // General/unknown error
	ErrUsage    = 2 // Invalid arguments or usage
	ErrInternal = 3 // Internal error (bug)
	ErrConfig   = 4 // Required environment or config value missing/invalid

	// Resource not found (10-19)
	ErrFileNotFound = 13 // File or path not found

	// Timeout and launch errors (40-49)
	ErrTimeout = 40 // Server never became ready within the launch budget
	ErrSpawn   = 41 // Server process could not be spawned

	// Conflict/state errors (50-59)
	ErrBusy = 52 // Another flaky process holds the server session lock

	// Test results (60-69)
	ErrTestsFailed = 60 // At least one test never passed
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf wraps an existing error with a code and printf-style message.
func Wrapf(code int, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't have a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// Config returns a configuration error. These are never retried.
func Config(msg string) *Error {
	return New(ErrConfig, msg)
}

// Configf returns a configuration error with printf-style formatting.
func Configf(format string, args ...interface{}) *Error {
	return Newf(ErrConfig, format, args...)
}

// FileNotFound returns an error for a missing file.
func FileNotFound(path string) *Error {
	return Newf(ErrFileNotFound, "file not found: %s", path)
}

// Usagef returns a usage error with printf-style formatting.
func Usagef(format string, args ...interface{}) *Error {
	return Newf(ErrUsage, format, args...)
}

// Busy returns an error when a lock is held by another process.
func Busy(resource string) *Error {
	return Newf(ErrBusy, "%s is held by another process", resource)
}

// Package errors provides error classification and exit code mapping for xssh.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Process exit codes
const (
	ExitOK             = 0
	ExitFailure        = 1 // A serial host failed, or every host failed in mass mode
	ExitUsage          = 2
	ExitSSHNotFound    = 3
	ExitMultipleHosts  = 4
	ExitPartialFailure = 5
	ExitInterrupted    = 130
)

var (
	// ErrUsage marks bad command line input
	ErrUsage = stderrors.New("usage error")

	// ErrSSHNotFound means the ssh client binary is not on PATH
	ErrSSHNotFound = stderrors.New("ssh client not found")

	// ErrMultipleHosts means a pattern matched several hosts without mass mode
	ErrMultipleHosts = stderrors.New("pattern matched multiple hosts")

	// ErrPartialFailure means some but not all hosts failed in mass mode
	ErrPartialFailure = stderrors.New("partial failure")

	// ErrFailure means the run finished with failed hosts
	ErrFailure = stderrors.New("execution failed")

	// ErrInterrupted means the run was cancelled by a signal
	ErrInterrupted = stderrors.New("interrupted")
)

// Usagef builds a usage error with a formatted message
func Usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// ExitCode determines the process exit status for err
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case stderrors.Is(err, ErrInterrupted):
		return ExitInterrupted
	case stderrors.Is(err, ErrUsage):
		return ExitUsage
	case stderrors.Is(err, ErrSSHNotFound):
		return ExitSSHNotFound
	case stderrors.Is(err, ErrMultipleHosts):
		return ExitMultipleHosts
	case stderrors.Is(err, ErrPartialFailure):
		return ExitPartialFailure
	default:
		return ExitFailure
	}
}

// Is and As re-export the standard helpers so callers need one import
var (
	Is  = stderrors.Is
	As  = stderrors.As
	New = stderrors.New
)

// ErrorType represents the classification of a per-host failure
type ErrorType int

const (
	// ConnectionErrorType represents network or SSH transport errors
	ConnectionErrorType ErrorType = iota

	// AuthenticationErrorType represents SSH authentication failures
	AuthenticationErrorType

	// TimeoutErrorType represents timeout-related errors
	TimeoutErrorType

	// ExecutionErrorType represents a remote command that ran and failed
	ExecutionErrorType

	// UnknownErrorType represents unclassified errors
	UnknownErrorType
)

// String returns a string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ConnectionErrorType:
		return "connection"
	case AuthenticationErrorType:
		return "authentication"
	case TimeoutErrorType:
		return "timeout"
	case ExecutionErrorType:
		return "execution"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with classification information
type ClassifiedError struct {
	Type     ErrorType
	Original error
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Original != nil {
		return ce.Original.Error()
	}
	return "unknown error"
}

// Unwrap returns the original error for error unwrapping
func (ce *ClassifiedError) Unwrap() error {
	return ce.Original
}

// ClassifyError analyzes an error message and returns its classification
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, authKeywords):
		return &ClassifiedError{Type: AuthenticationErrorType, Original: err}
	case containsAny(errStr, timeoutKeywords):
		return &ClassifiedError{Type: TimeoutErrorType, Original: err}
	case containsAny(errStr, connectionKeywords):
		return &ClassifiedError{Type: ConnectionErrorType, Original: err}
	case containsAny(errStr, executionKeywords):
		return &ClassifiedError{Type: ExecutionErrorType, Original: err}
	default:
		return &ClassifiedError{Type: UnknownErrorType, Original: err}
	}
}

var (
	authKeywords = []string{
		"authentication failed",
		"unable to authenticate",
		"permission denied (publickey",
		"no supported authentication methods",
		"host key verification failed",
		"knownhosts: key mismatch",
		"knownhosts: key is unknown",
	}
	timeoutKeywords = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
	}
	connectionKeywords = []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"network is unreachable",
		"no route to host",
		"could not resolve hostname",
		"no such host",
		"handshake failed",
		"broken pipe",
		"eof",
	}
	executionKeywords = []string{
		"exited with status",
		"command not found",
		"signal:",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// ErrorCollector counts per-host failures by type
type ErrorCollector struct {
	errors map[ErrorType][]error
	count  int
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[ErrorType][]error),
	}
}

// Add classifies err and records it
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}

	var classified *ClassifiedError
	if !stderrors.As(err, &classified) {
		classified = ClassifyError(err)
	}
	ec.errors[classified.Type] = append(ec.errors[classified.Type], err)
	ec.count++
}

// Count returns the total number of errors
func (ec *ErrorCollector) Count() int {
	return ec.count
}

// CountByType returns the number of errors of a specific type
func (ec *ErrorCollector) CountByType(errorType ErrorType) int {
	return len(ec.errors[errorType])
}

// Summary returns a summary of all collected errors in a stable order
func (ec *ErrorCollector) Summary() string {
	if ec.count == 0 {
		return "no errors"
	}

	var parts []string
	for t := ConnectionErrorType; t <= UnknownErrorType; t++ {
		if n := len(ec.errors[t]); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, t))
		}
	}
	return fmt.Sprintf("total: %d errors (%s)", ec.count, strings.Join(parts, ", "))
}

package errors

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// Validation errors - invalid input data
	ErrorTypeValidation
	// Database errors - database connection or query failures
	ErrorTypeDatabase
	// Network errors - network connectivity issues and non-success responses
	ErrorTypeNetwork
	// FileSystem errors - file I/O failures
	ErrorTypeFileSystem
	// External errors - external process or service failures
	ErrorTypeExternal
	// Internal errors - unexpected internal state
	ErrorTypeInternal
	// Parse errors - source output that does not have the expected shape
	ErrorTypeParse
	// Identity errors - author strings that cannot be attributed to one user
	ErrorTypeIdentity
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, fails the current operation
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Code identifies a specific failure kind within an ErrorType.
type Code string

const (
	CodeMalformedStatsLine  Code = "MalformedStatsLine"
	CodeUnrecognizedLine    Code = "UnrecognizedLine"
	CodeThrottleExhausted   Code = "ThrottleExhausted"
	CodeRemoteRequestFailed Code = "RemoteRequestFailed"
	CodeUnknownAuthor       Code = "UnknownAuthor"
	CodeAmbiguousAuthor     Code = "AmbiguousAuthor"
)

// Sentinels for errors.Is checks. They match any *Error carrying the same Code.
var (
	ErrMalformedStatsLine  = &Error{Type: ErrorTypeParse, Code: CodeMalformedStatsLine}
	ErrUnrecognizedLine    = &Error{Type: ErrorTypeParse, Code: CodeUnrecognizedLine}
	ErrThrottleExhausted   = &Error{Type: ErrorTypeNetwork, Code: CodeThrottleExhausted}
	ErrRemoteRequestFailed = &Error{Type: ErrorTypeNetwork, Code: CodeRemoteRequestFailed}
	ErrUnknownAuthor       = &Error{Type: ErrorTypeIdentity, Code: CodeUnknownAuthor}
	ErrAmbiguousAuthor     = &Error{Type: ErrorTypeIdentity, Code: CodeAmbiguousAuthor}
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Code       Code
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is matches on Code when the target carries one, otherwise on Type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should stop execution
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// Label is the error's Code, or its Type when it has none
func (e *Error) Label() string {
	if e.Code != "" {
		return string(e.Code)
	}
	return e.Type.String()
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n",
		e.Severity,
		e.Label(),
		e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("Context:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, e.Context[k]))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeDatabase:
		return "DATABASE"
	case ErrorTypeNetwork:
		return "NETWORK"
	case ErrorTypeFileSystem:
		return "FILESYSTEM"
	case ErrorTypeExternal:
		return "EXTERNAL"
	case ErrorTypeInternal:
		return "INTERNAL"
	case ErrorTypeParse:
		return "PARSE"
	case ErrorTypeIdentity:
		return "IDENTITY"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

func coded(errType ErrorType, code Code, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Code:       code,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(3),
	}
}

// Convenience constructors for common error types

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// ValidationError creates a validation error
func ValidationError(message string) *Error {
	return New(ErrorTypeValidation, SeverityHigh, message)
}

// ValidationErrorf creates a validation error with formatting
func ValidationErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, SeverityHigh, fmt.Sprintf(format, args...))
}

// DatabaseError wraps a database error
func DatabaseError(err error, message string) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, message)
}

// DatabaseErrorf wraps a database error with formatting
func DatabaseErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, fmt.Sprintf(format, args...))
}

// NetworkErrorf wraps a network error with formatting
func NetworkErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeNetwork, SeverityHigh, fmt.Sprintf(format, args...))
}

// ExternalErrorf wraps an external service or process error with formatting
func ExternalErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeExternal, SeverityHigh, fmt.Sprintf(format, args...))
}

// FileSystemErrorf wraps a file I/O error with formatting
func FileSystemErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeFileSystem, SeverityCritical, fmt.Sprintf(format, args...))
}

// MalformedStatsLine reports an indented log line that is not a statistics line.
func MalformedStatsLine(lineNo int, line, reason string) *Error {
	return coded(ErrorTypeParse, CodeMalformedStatsLine, SeverityHigh,
		fmt.Sprintf("malformed stats line %d %q: %s", lineNo, line, reason)).
		WithContext("line_number", lineNo).
		WithContext("line", line)
}

// UnrecognizedLine reports a log line of unknown shape.
func UnrecognizedLine(lineNo int, line, reason string) *Error {
	return coded(ErrorTypeParse, CodeUnrecognizedLine, SeverityHigh,
		fmt.Sprintf("unrecognized line %d %q: %s", lineNo, line, reason)).
		WithContext("line_number", lineNo).
		WithContext("line", line)
}

// ThrottleExhausted reports that a request stayed rate limited past the backoff ceiling.
func ThrottleExhausted(url string, attempts int) *Error {
	return coded(ErrorTypeNetwork, CodeThrottleExhausted, SeverityHigh,
		fmt.Sprintf("giving up on %s after %d throttled attempts", url, attempts)).
		WithContext("url", url).
		WithContext("attempts", attempts)
}

// RemoteRequestFailed reports a non-success, non-throttle HTTP response.
func RemoteRequestFailed(url string, status int, body string) *Error {
	return coded(ErrorTypeNetwork, CodeRemoteRequestFailed, SeverityHigh,
		fmt.Sprintf("request to %s failed: %d %s", url, status, body)).
		WithContext("url", url).
		WithContext("status", status).
		WithContext("body", body)
}

// UnknownAuthor reports an author string that matches no configured user.
func UnknownAuthor(author string) *Error {
	return coded(ErrorTypeIdentity, CodeUnknownAuthor, SeverityLow,
		fmt.Sprintf("author %q did not match any known user", author)).
		WithContext("author", author)
}

// AmbiguousAuthor reports an author string that matches more than one user.
func AmbiguousAuthor(author string, matched []string) *Error {
	return coded(ErrorTypeIdentity, CodeAmbiguousAuthor, SeverityCritical,
		fmt.Sprintf("author %q matches several users: %s", author, strings.Join(matched, ", "))).
		WithContext("author", author).
		WithContext("matched", matched)
}

// IsFatal checks if an error is fatal (should stop execution)
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if e, ok := asError(err); ok {
		return e.IsFatal()
	}

	return false
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityLow
	}

	if e, ok := asError(err); ok {
		return e.Severity
	}

	return SeverityMedium
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	if err == nil {
		return ErrorTypeInternal
	}

	if e, ok := asError(err); ok {
		return e.Type
	}

	return ErrorTypeInternal
}

// GetCode returns the code of the first *Error in the chain, or "".
func GetCode(err error) Code {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return ""
}

// asError walks the Unwrap chain; this package shadows the standard errors package.
func asError(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Connection errors (1xxx)
	ErrCodeConnectionFailed     ErrorCode = "SPK1001"
	ErrCodeConnectionTimeout    ErrorCode = "SPK1002"
	ErrCodeAuthenticationFailed ErrorCode = "SPK1003"

	// Configuration errors (2xxx)
	ErrCodeConfigNotFound ErrorCode = "SPK2001"
	ErrCodeConfigInvalid  ErrorCode = "SPK2002"
	ErrCodeConfigMissing  ErrorCode = "SPK2003"
	ErrCodeConfigWrite    ErrorCode = "SPK2004"

	// Cloud provisioning errors (3xxx)
	ErrCodeCloudRequest       ErrorCode = "SPK3001"
	ErrCodeCloudNotReady      ErrorCode = "SPK3002"
	ErrCodeCloudAccessDenied  ErrorCode = "SPK3003"
	ErrCodeCloudNotFound      ErrorCode = "SPK3004"
	ErrCodeCloudAlreadyExists ErrorCode = "SPK3005"

	// SQL execution errors (4xxx)
	ErrCodeSQLSyntax         ErrorCode = "SPK4001"
	ErrCodeSQLPermission     ErrorCode = "SPK4002"
	ErrCodeSQLTimeout        ErrorCode = "SPK4003"
	ErrCodeSQLTransaction    ErrorCode = "SPK4004"
	ErrCodeSQLObjectNotFound ErrorCode = "SPK4005"
	ErrCodeSQLExecution      ErrorCode = "SPK4006"
	ErrCodeCopyFailed        ErrorCode = "SPK4007"
	ErrCodeNoResults         ErrorCode = "SPK4008"
	ErrCodeDuplicateKey      ErrorCode = "SPK4009"

	// File system errors (5xxx)
	ErrCodeFileNotFound   ErrorCode = "SPK5001"
	ErrCodeFilePermission ErrorCode = "SPK5002"
	ErrCodeFileCorrupted  ErrorCode = "SPK5003"
	ErrCodeFileOperation  ErrorCode = "SPK5005"

	// Validation errors (6xxx)
	ErrCodeValidationFailed ErrorCode = "SPK6001"
	ErrCodeInvalidInput     ErrorCode = "SPK6002"
	ErrCodeRequiredField    ErrorCode = "SPK6003"
	ErrCodeUserInput        ErrorCode = "SPK6004"

	// System errors (9xxx)
	ErrCodeInternal           ErrorCode = "SPK9001"
	ErrCodeTimeout            ErrorCode = "SPK9002"
	ErrCodeResourceExhausted  ErrorCode = "SPK9003"
	ErrCodeServiceUnavailable ErrorCode = "SPK9004"
	ErrCodeResultParsing      ErrorCode = "SPK9005"
	ErrCodeMaxRetriesExceeded ErrorCode = "SPK9007"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // System failure, requires immediate attention
	SeverityError    ErrorSeverity = "ERROR"    // Operation failed, but system continues
	SeverityWarning  ErrorSeverity = "WARNING"  // Operation succeeded with issues
	SeverityInfo     ErrorSeverity = "INFO"     // Informational, not an error
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		Severity:    SeverityError,
		Context:     make(map[string]interface{}),
		Stack:       captureStack(),
		Timestamp:   time.Now(),
		Recoverable: false,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// If wrapping another AppError, inherit its context
	var ae *AppError
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

// captureStack captures the current stack trace
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConnectionError creates a connection-related error
func ConnectionError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeConnectionFailed, message).
		WithSeverity(SeverityError).
		WithSuggestions(
			"Check your network connection",
			"Verify the cluster endpoint in [CLUSTER] HOST is reachable",
			"Check that the cluster security group allows the database port",
		)
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'sparkify infra create' to fill in provisioned values",
		)
}

// SQLError creates an SQL execution error
func SQLError(message string, query string, cause error) *AppError {
	err := Wrap(cause, ErrCodeSQLExecution, message).
		WithContext("query", truncateString(query, 200))

	causeText := ""
	if cause != nil {
		causeText = strings.ToLower(cause.Error())
	}

	switch {
	case strings.Contains(causeText, "permission") || strings.Contains(causeText, "access denied"):
		err.Code = ErrCodeSQLPermission
		_ = err.WithSuggestions(
			"Check the database user privileges",
			"Verify the IAM role attached to the cluster can read the bucket",
		)
	case strings.Contains(causeText, "timeout"):
		err.Code = ErrCodeSQLTimeout
		_ = err.WithSuggestions(
			"Increase the query timeout setting",
			"Check the cluster size",
		)
	case strings.Contains(causeText, "does not exist"):
		err.Code = ErrCodeSQLObjectNotFound
		_ = err.WithSuggestions(
			"Run 'sparkify tables' to create the schema",
		)
	case strings.Contains(causeText, "syntax error"):
		err.Code = ErrCodeSQLSyntax
	}

	return err
}

// CloudError creates an error for a failed cloud control-plane call
func CloudError(message string, resource string, cause error) *AppError {
	return Wrap(cause, ErrCodeCloudRequest, message).
		WithContext("resource", resource).
		WithSuggestions(
			"Verify [INFRASTRUCTURE] KEY and SECRET belong to a user with the required permissions",
			"Check the AWS region in [INFRASTRUCTURE] REGION",
		)
}

// ValidationError creates a validation error
func ValidationError(field string, value interface{}, reason string) *AppError {
	return New(ErrCodeValidationFailed, fmt.Sprintf("Validation failed for %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSeverity(SeverityWarning).
		AsRecoverable()
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is forwards to the standard library errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As forwards to the standard library errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

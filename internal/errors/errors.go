package errors

import (
	"errors"
	"fmt"
)

// WorkerError is the structured error type returned by every worker operation.
// The dispatcher turns it into a failed response; its code survives the trip
// so hosts can tell "retry later" from "fix the request".
type WorkerError struct {
	// Code is the unique error code (e.g., "ERR_602_NOT_READY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the host.
	Suggestion string
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *WorkerError) Unwrap() error {
	return e.Cause
}

// Is matches another WorkerError by code, so errors.Is(err, ErrNotReady) works.
func (e *WorkerError) Is(target error) bool {
	if t, ok := target.(*WorkerError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *WorkerError) WithDetail(key, value string) *WorkerError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion.
func (e *WorkerError) WithSuggestion(suggestion string) *WorkerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new WorkerError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *WorkerError {
	return &WorkerError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a WorkerError from an existing error, reusing its message.
func Wrap(code string, err error) *WorkerError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrInvalidArgument    = New(ErrCodeInvalidArgument, "invalid argument", nil)
	ErrUnknownMessageType = New(ErrCodeUnknownMessageType, "unknown message type", nil)
	ErrNotInitialized     = New(ErrCodeNotInitialized, "not initialized", nil)
	ErrNotReady           = New(ErrCodeNotReady, "not ready", nil)
	ErrStaleOperation     = New(ErrCodeStaleOperation, "stale operation", nil)
	ErrUnsupported        = New(ErrCodeUnsupported, "unsupported", nil)
	ErrPersistenceFailure = New(ErrCodePersistenceFailure, "persistence failure", nil)
	ErrBlobNotFound       = New(ErrCodeBlobNotFound, "blob not found", nil)
	ErrCorruptIndex       = New(ErrCodeCorruptIndex, "corrupt index", nil)
	ErrSchemaMismatch     = New(ErrCodeSchemaMismatch, "schema mismatch", nil)
	ErrModelUnavailable   = New(ErrCodeModelUnavailable, "model unavailable", nil)
	ErrNoSourceRecords    = New(ErrCodeNoSourceRecords, "no source records", nil)
)

// InvalidArgument reports malformed request data.
func InvalidArgument(format string, args ...any) *WorkerError {
	return New(ErrCodeInvalidArgument, fmt.Sprintf(format, args...), nil)
}

// UnknownMessageType reports a request type the worker does not recognize.
func UnknownMessageType(msgType string) *WorkerError {
	return New(ErrCodeUnknownMessageType, fmt.Sprintf("unknown message type: %q", msgType), nil).
		WithDetail("type", msgType)
}

// NotInitialized reports an operation against a context that was never allocated.
func NotInitialized(what string) *WorkerError {
	return New(ErrCodeNotInitialized, what+" is not initialized", nil).
		WithSuggestion("send initHnswLib and initHnswIndex first")
}

// NotReady reports an operation issued before the context reached the required state.
func NotReady(contextName, state string) *WorkerError {
	return New(ErrCodeNotReady, fmt.Sprintf("index context %q is not ready (state: %s)", contextName, state), nil).
		WithDetail("context", contextName).
		WithDetail("state", state)
}

// StaleOperation reports work belonging to a superseded initialize.
func StaleOperation(contextName, token string) *WorkerError {
	return New(ErrCodeStaleOperation, fmt.Sprintf("operation %q is stale for index context %q", token, contextName), nil).
		WithDetail("context", contextName).
		WithDetail("operation_id", token)
}

// Unsupported reports an operation that is not valid for the named context.
func Unsupported(format string, args ...any) *WorkerError {
	return New(ErrCodeUnsupported, fmt.Sprintf(format, args...), nil)
}

// PersistenceFailure reports a virtual filesystem or durable store I/O failure.
func PersistenceFailure(message string, cause error) *WorkerError {
	return New(ErrCodePersistenceFailure, message, cause)
}

// ModelUnavailable reports that the embedding model could not be loaded.
func ModelUnavailable(message string, cause error) *WorkerError {
	return New(ErrCodeModelUnavailable, message, cause)
}

// NoSourceRecords reports a rebuild that found nothing usable to insert.
func NoSourceRecords(message string) *WorkerError {
	return New(ErrCodeNoSourceRecords, message, nil)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *WorkerError {
	return New(ErrCodeInternal, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *WorkerError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var we *WorkerError
	if errors.As(err, &we) {
		return we.Retryable
	}
	return false
}

// GetCode extracts the error code from a WorkerError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var we *WorkerError
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// AsWorkerError returns err as a WorkerError, wrapping foreign errors as internal.
func AsWorkerError(err error) *WorkerError {
	if err == nil {
		return nil
	}
	var we *WorkerError
	if errors.As(err, &we) {
		return we
	}
	return Wrap(ErrCodeInternal, err)
}

// Package errors provides structured error handling for the ANN worker.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Persistence errors (virtual filesystem, durable store)
//   - 3XX: Embedding model errors
//   - 4XX: Request validation errors
//   - 5XX: Internal errors
//   - 6XX: Index lifecycle errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryPersistence indicates virtual filesystem and durable store errors.
	CategoryPersistence Category = "PERSISTENCE"
	// CategoryModel indicates embedding model errors.
	CategoryModel Category = "MODEL"
	// CategoryValidation indicates malformed request data.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryLifecycle indicates operations issued out of lifecycle order.
	CategoryLifecycle Category = "LIFECYCLE"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Persistence errors (200-299)
	ErrCodePersistenceFailure = "ERR_201_PERSISTENCE_FAILURE"
	ErrCodeBlobNotFound       = "ERR_202_BLOB_NOT_FOUND"
	ErrCodeCorruptIndex       = "ERR_203_CORRUPT_INDEX"
	ErrCodeSchemaMismatch     = "ERR_204_SCHEMA_MISMATCH"
	ErrCodeStoreLocked        = "ERR_205_STORE_LOCKED"

	// Model errors (300-399)
	ErrCodeModelUnavailable = "ERR_301_MODEL_UNAVAILABLE"
	ErrCodeEmbeddingFailed  = "ERR_302_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidArgument    = "ERR_401_INVALID_ARGUMENT"
	ErrCodeUnknownMessageType = "ERR_403_UNKNOWN_MESSAGE_TYPE"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"

	// Lifecycle errors (600-699)
	ErrCodeNotInitialized  = "ERR_601_NOT_INITIALIZED"
	ErrCodeNotReady        = "ERR_602_NOT_READY"
	ErrCodeStaleOperation  = "ERR_603_STALE_OPERATION"
	ErrCodeUnsupported     = "ERR_604_UNSUPPORTED"
	ErrCodeNoSourceRecords = "ERR_605_NO_SOURCE_RECORDS"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryPersistence
	case '3':
		return CategoryModel
	case '4':
		return CategoryValidation
	case '6':
		return CategoryLifecycle
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeSchemaMismatch, ErrCodeStoreLocked:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether a retry of the same request may succeed.
// Every mutating worker operation is idempotent, so anything caused by
// timing or I/O is retryable; malformed input is not.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodePersistenceFailure,
		ErrCodeModelUnavailable,
		ErrCodeEmbeddingFailed,
		ErrCodeNotInitialized,
		ErrCodeNotReady,
		ErrCodeStaleOperation:
		return true
	default:
		return false
	}
}

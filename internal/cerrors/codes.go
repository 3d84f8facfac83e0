// Package cerrors provides structured error handling for cindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Filesystem errors
//   - 3XX: Data-store errors
//   - 4XX: Embedding/summary backend errors
//   - 5XX: Input validation errors
//   - 6XX: Internal errors
package cerrors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors. Fatal at startup.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates filesystem errors during discovery or resolution.
	CategoryIO Category = "IO"
	// CategoryStore indicates data-store errors (connection, schema, query).
	CategoryStore Category = "STORE"
	// CategoryBackend indicates embedding/summary backend errors.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates tool input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
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
	ErrCodeConfigMissing = "ERR_101_CONFIG_MISSING"
	ErrCodeConfigRange   = "ERR_102_CONFIG_RANGE"
	ErrCodeConfigParse   = "ERR_103_CONFIG_PARSE"

	// Filesystem errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeFileEncoding   = "ERR_203_FILE_ENCODING"
	ErrCodeFileTooLarge   = "ERR_204_FILE_TOO_LARGE"

	// Store errors (300-399)
	ErrCodeStoreUnavailable  = "ERR_301_STORE_UNAVAILABLE"
	ErrCodeStoreNotConnected = "ERR_302_STORE_NOT_CONNECTED"
	ErrCodeStoreNotFound     = "ERR_303_STORE_NOT_FOUND"
	ErrCodeStoreSchema       = "ERR_304_STORE_SCHEMA"
	ErrCodeStoreDimension    = "ERR_305_STORE_DIMENSION_MISMATCH"
	ErrCodeStoreQuery        = "ERR_306_STORE_QUERY"
	ErrCodeStoreConflict     = "ERR_307_STORE_CONFLICT"

	// Backend errors (400-499)
	ErrCodeModelNotFound    = "ERR_401_MODEL_NOT_FOUND"
	ErrCodeEmbeddingFailed  = "ERR_402_EMBEDDING_FAILED"
	ErrCodeSummaryFailed    = "ERR_403_SUMMARY_FAILED"
	ErrCodeBackendTimeout   = "ERR_404_BACKEND_TIMEOUT"
	ErrCodeBackendDown      = "ERR_405_BACKEND_UNAVAILABLE"
	ErrCodeBackendDimension = "ERR_406_BACKEND_DIMENSION_MISMATCH"

	// Validation errors (500-599)
	ErrCodeInvalidInput    = "ERR_501_INVALID_INPUT"
	ErrCodeMissingField    = "ERR_502_MISSING_FIELD"
	ErrCodeOutOfRange      = "ERR_503_OUT_OF_RANGE"
	ErrCodeUnknownEnum     = "ERR_504_UNKNOWN_ENUM"
	ErrCodeQueryEmpty      = "ERR_505_QUERY_EMPTY"
	ErrCodeConfirmRequired = "ERR_506_CONFIRM_REQUIRED"

	// Internal errors (600-699)
	ErrCodeInternal     = "ERR_601_INTERNAL"
	ErrCodeSearchFailed = "ERR_602_SEARCH_FAILED"
	ErrCodeIndexFailed  = "ERR_603_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "101" from "ERR_101_CONFIG_MISSING".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryStore
	case '4':
		return CategoryBackend
	case '5':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigMissing, ErrCodeConfigRange, ErrCodeConfigParse,
		ErrCodeStoreDimension, ErrCodeBackendDimension, ErrCodeModelNotFound:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeStoreNotConnected,
		ErrCodeBackendTimeout, ErrCodeBackendDown:
		return true
	default:
		return false
	}
}

package crate

import (
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeStorage    ErrorType = "storage"
)

// CrateError represents unified errors from the upload pipeline
type CrateError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Upload  string         `json:"upload,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CrateError) Error() string {
	if e.Upload != "" {
		return fmt.Sprintf("[%s:%s] upload %s: %s", e.Type, e.Code, e.Upload, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *CrateError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to a CrateError
func (e *CrateError) WithDetails(details map[string]any) *CrateError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to a CrateError
func (e *CrateError) WithDetail(key string, value any) *CrateError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to a CrateError
func (e *CrateError) WithCause(cause error) *CrateError {
	e.Cause = cause
	return e
}

// WithField adds field context to a CrateError
func (e *CrateError) WithField(field string) *CrateError {
	e.Field = field
	return e
}

// WithUpload adds upload context to a CrateError
func (e *CrateError) WithUpload(uploadID string) *CrateError {
	e.Upload = uploadID
	return e
}

// Error codes consolidated from all modules
const (
	// Upload pipeline errors
	ErrCodeInvalidJSON        = "INVALID_JSON"
	ErrCodeEmptyFile          = "EMPTY_FILE"
	ErrCodeFileTooLarge       = "FILE_TOO_LARGE"
	ErrCodeUploadNotFound     = "UPLOAD_NOT_FOUND"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeUnsupportedPayload = "UNSUPPORTED_PAYLOAD"

	// Schema errors
	ErrCodeSchemaNotFound       = "SCHEMA_NOT_FOUND"
	ErrCodeSchemaInvalid        = "SCHEMA_INVALID"
	ErrCodeSchemaConflict       = "SCHEMA_CONFLICT"
	ErrCodeAppendSchemaMismatch = "APPEND_SCHEMA_MISMATCH"
	ErrCodeConflictRejected     = "CONFLICT_REJECTED"
	ErrCodeInvalidAction        = "INVALID_CONFLICT_ACTION"

	// Storage errors
	ErrCodeStorageFailed    = "STORAGE_FAILED"
	ErrCodeObjectNotFound   = "OBJECT_NOT_FOUND"
	ErrCodeTableCreation    = "TABLE_CREATION_FAILED"
	ErrCodeRowInsertFailed  = "ROW_INSERT_FAILED"
	ErrCodeTransactionFail  = "TRANSACTION_FAILED"
	ErrCodeConnectionFailed = "CONNECTION_FAILED"

	// Query/listing errors
	ErrCodeInvalidPage     = "INVALID_PAGE"
	ErrCodeInvalidPageSize = "INVALID_PAGE_SIZE"
	ErrCodeQueryExecution  = "QUERY_EXECUTION_ERROR"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// ============================================================================
// CrateError Constructors
// ============================================================================

// NewCrateError creates a new CrateError
func NewCrateError(errorType ErrorType, code, message string) *CrateError {
	return &CrateError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewInvalidJSONError creates an invalid JSON payload error
func NewInvalidJSONError(message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidJSON,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewEmptyFileError creates an empty file error
func NewEmptyFileError(fileName string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeEmptyFile,
		Message: fmt.Sprintf("file '%s' is empty", fileName),
		Details: map[string]any{
			"file_name": fileName,
		},
	}
}

// NewFileTooLargeError creates a file size limit error
func NewFileTooLargeError(size, maxSize int64) *CrateError {
	return &CrateError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeFileTooLarge,
		Message: fmt.Sprintf("file size %d exceeds maximum allowed size %d", size, maxSize),
		Details: map[string]any{
			"size":     size,
			"max_size": maxSize,
		},
	}
}

// NewUploadNotFoundError creates an upload not found error
func NewUploadNotFoundError(uploadID string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeUploadNotFound,
		Message: "upload not found",
		Upload:  uploadID,
		Details: make(map[string]any),
	}
}

// NewValidationError creates a validation error
func NewValidationError(field, message string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: message,
		Field:   field,
		Details: make(map[string]any),
	}
}

// NewSchemaNotFoundError creates a schema not found error
func NewSchemaNotFoundError(fileIdentity string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeSchemaNotFound,
		Message: fmt.Sprintf("schema for '%s' not found", fileIdentity),
		Details: map[string]any{
			"file_identity": fileIdentity,
		},
	}
}

// NewSchemaInvalidError creates an invalid schema error
func NewSchemaInvalidError(message string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeSchemaInvalid,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewAppendMismatchError creates an error for append against a differing schema
func NewAppendMismatchError(cmp SchemaComparisonResult) *CrateError {
	return &CrateError{
		Type:    ErrorTypeConflict,
		Code:    ErrCodeAppendSchemaMismatch,
		Message: "append requires an exact schema match",
		Details: map[string]any{
			"missing_columns":  cmp.MissingColumns,
			"extra_columns":    cmp.ExtraColumns,
			"mismatched_types": cmp.MismatchedTypes,
		},
	}
}

// NewConflictRejectedError creates an error for a rejected re-upload
func NewConflictRejectedError(fileIdentity string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeConflict,
		Code:    ErrCodeConflictRejected,
		Message: fmt.Sprintf("upload of '%s' rejected, existing data kept unchanged", fileIdentity),
		Details: map[string]any{
			"file_identity": fileIdentity,
		},
	}
}

// NewInvalidActionError creates an error for an unknown conflict action
func NewInvalidActionError(action string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidAction,
		Message: fmt.Sprintf("unknown conflict action '%s'", action),
		Details: map[string]any{
			"action": action,
		},
	}
}

// NewStorageError creates a storage error
func NewStorageError(message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeStorage,
		Code:    ErrCodeStorageFailed,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewObjectNotFoundError creates an object store miss error
func NewObjectNotFoundError(key string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeObjectNotFound,
		Message: fmt.Sprintf("object '%s' not found", key),
		Details: map[string]any{
			"object_key": key,
		},
	}
}

// NewTableCreationError creates a table creation error
func NewTableCreationError(tableName string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeStorage,
		Code:    ErrCodeTableCreation,
		Message: fmt.Sprintf("failed to create table '%s'", tableName),
		Cause:   cause,
		Details: map[string]any{
			"table_name": tableName,
		},
	}
}

// NewRowInsertError creates a row insert error
func NewRowInsertError(tableName string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeStorage,
		Code:    ErrCodeRowInsertFailed,
		Message: fmt.Sprintf("failed to insert rows into '%s'", tableName),
		Cause:   cause,
		Details: map[string]any{
			"table_name": tableName,
		},
	}
}

// NewTransactionError creates a transaction error
func NewTransactionError(message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeStorage,
		Code:    ErrCodeTransactionFail,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewConnectionError creates a connection error
func NewConnectionError(message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeConnectionFailed,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewQueryExecutionError creates a query execution error
func NewQueryExecutionError(message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeExecution,
		Code:    ErrCodeQueryExecution,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// ============================================================================
// Error checking utilities
// ============================================================================

// IsNotFoundError checks if an error is any not-found error
func IsNotFoundError(err error) bool {
	if ce, ok := err.(*CrateError); ok {
		return ce.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	if ce, ok := err.(*CrateError); ok {
		return ce.Type == ErrorTypeValidation
	}
	return false
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	if ce, ok := err.(*CrateError); ok {
		return ce.Type == ErrorTypeConflict
	}
	return false
}

// IsStorageError checks if an error is a storage error
func IsStorageError(err error) bool {
	if ce, ok := err.(*CrateError); ok {
		return ce.Type == ErrorTypeStorage
	}
	return false
}

// IsAppendMismatchError checks if an error is an append schema mismatch
func IsAppendMismatchError(err error) bool {
	if ce, ok := err.(*CrateError); ok {
		return ce.Code == ErrCodeAppendSchemaMismatch
	}
	return false
}

// Package errors provides structured error handling for secure column operations
// with error codes, categorization, and masking of decryption failures.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrorCode represents a specific error code
type ErrorCode string

const (
	// Secure column errors
	ErrCodeConfiguration    ErrorCode = "SECUREX_CONFIGURATION"
	ErrCodeMissingProvider  ErrorCode = "SECUREX_MISSING_PROVIDER"
	ErrCodeProvider         ErrorCode = "SECUREX_PROVIDER"
	ErrCodeDecode           ErrorCode = "SECUREX_DECODE"
	ErrCodeEncode           ErrorCode = "SECUREX_ENCODE"
	ErrCodeDecryptionFailed ErrorCode = "SECUREX_DECRYPTION_FAILED"
	ErrCodeUnsealedValue    ErrorCode = "SECUREX_UNSEALED_VALUE"
	ErrCodeInvalidRecord    ErrorCode = "SECUREX_INVALID_RECORD"

	// Connection errors
	ErrCodeConnectionFailed  ErrorCode = "DB_CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "DB_CONNECTION_TIMEOUT"

	// Query errors
	ErrCodeQueryTimeout   ErrorCode = "DB_QUERY_TIMEOUT"
	ErrCodeQueryExecution ErrorCode = "DB_QUERY_EXECUTION"
	ErrCodeInvalidQuery   ErrorCode = "DB_INVALID_QUERY"

	// Data errors
	ErrCodeRecordNotFound      ErrorCode = "DB_RECORD_NOT_FOUND"
	ErrCodeDuplicateKey        ErrorCode = "DB_DUPLICATE_KEY"
	ErrCodeConstraintViolation ErrorCode = "DB_CONSTRAINT_VIOLATION"
	ErrCodeInvalidData         ErrorCode = "DB_INVALID_DATA"

	// Migration errors
	ErrCodeMigrationFailed ErrorCode = "DB_MIGRATION_FAILED"

	// Input errors
	ErrCodeInvalidInput ErrorCode = "DB_INVALID_INPUT"

	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "DB_INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "DB_MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "DB_CONFIG_VALIDATION"

	// General errors
	ErrCodeUnknown         ErrorCode = "DB_UNKNOWN_ERROR"
	ErrCodeInternal        ErrorCode = "DB_INTERNAL_ERROR"
	ErrCodeNotImplemented  ErrorCode = "DB_NOT_IMPLEMENTED"
	ErrCodeOperationFailed ErrorCode = "DB_OPERATION_FAILED"
)

// DecryptionFailedMessage is the only message a caller ever sees when a secure column
// cannot be decrypted or decoded.
const DecryptionFailedMessage = "Failed to decode the field. Incorrect key?"

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryCrypto        ErrorCategory = "CRYPTO"
	CategoryConnection    ErrorCategory = "CONNECTION"
	CategoryQuery         ErrorCategory = "QUERY"
	CategoryData          ErrorCategory = "DATA"
	CategoryMigration     ErrorCategory = "MIGRATION"
	CategoryConfiguration ErrorCategory = "CONFIGURATION"
	CategoryGeneral       ErrorCategory = "GENERAL"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// SecureError represents a structured error raised by the secure column layer
type SecureError struct {
	Code        ErrorCode     `json:"code"`
	Category    ErrorCategory `json:"category"`
	Severity    ErrorSeverity `json:"severity"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Cause       error         `json:"-"`
	Operation   string        `json:"operation,omitempty"`
	Table       string        `json:"table,omitempty"`
	Column      string        `json:"column,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	StackTrace  string        `json:"stack_trace,omitempty"`
	UserMessage string        `json:"user_message,omitempty"`
}

// Error implements the error interface
func (e *SecureError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *SecureError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a SecureError with the same code, or matches the cause
func (e *SecureError) Is(target error) bool {
	if target == nil {
		return false
	}

	var se *SecureError
	if errors.As(target, &se) && se != nil {
		return e.Code == se.Code
	}

	if e.Cause != nil {
		return errors.Is(e.Cause, target)
	}

	return false
}

// clone returns a modified copy; the With helpers never mutate an error that may already
// have been returned elsewhere
func (e *SecureError) clone(set func(*SecureError)) *SecureError {
	c := *e
	set(&c)
	return &c
}

func (e *SecureError) WithOperation(operation string) *SecureError {
	return e.clone(func(c *SecureError) { c.Operation = operation })
}

func (e *SecureError) WithTable(table string) *SecureError {
	return e.clone(func(c *SecureError) { c.Table = table })
}

func (e *SecureError) WithColumn(column string) *SecureError {
	return e.clone(func(c *SecureError) { c.Column = column })
}

func (e *SecureError) WithDetails(details string) *SecureError {
	return e.clone(func(c *SecureError) { c.Details = details })
}

// WithUserMessage sets the message safe to show to end users
func (e *SecureError) WithUserMessage(message string) *SecureError {
	return e.clone(func(c *SecureError) { c.UserMessage = message })
}

// New creates a new secure error
func New(code ErrorCode, message string, cause error) *SecureError {
	category, severity := getErrorMetadata(code)

	var stackTrace string
	if includeStackTrace(severity) {
		stackTrace = getStackTrace(2)
	}

	return &SecureError{
		Code:       code,
		Category:   category,
		Severity:   severity,
		Message:    message,
		Cause:      cause,
		Timestamp:  time.Now(),
		StackTrace: stackTrace,
	}
}

// NewConfigurationError reports configuration keys that are not recognized. The keys are
// listed sorted so the message is stable.
func NewConfigurationError(unknown []string) *SecureError {
	keys := append([]string(nil), unknown...)
	sort.Strings(keys)
	return New(ErrCodeConfiguration, fmt.Sprintf("unknown option(s): %s", strings.Join(keys, ", ")), nil)
}

// NewMissingProviderError is returned when no override and no default provider exist
func NewMissingProviderError(table string) *SecureError {
	return New(ErrCodeMissingProvider, "No crypto provider defined", nil).WithTable(table)
}

// NewProviderError wraps a failure of the underlying cipher
func NewProviderError(operation string, cause error) *SecureError {
	return New(ErrCodeProvider, "crypto provider failed", cause).WithOperation(operation)
}

// NewDecodeError wraps a failure to deserialize decrypted bytes
func NewDecodeError(cause error) *SecureError {
	return New(ErrCodeDecode, "failed to decode payload", cause)
}

// NewEncodeError wraps a failure to serialize a plaintext value
func NewEncodeError(cause error) *SecureError {
	return New(ErrCodeEncode, "failed to encode value", cause)
}

// NewDecryptionFailedError returns the opaque error raised at the decrypt boundary.
// It carries no cause so nothing about the key or the plaintext can leak through it.
func NewDecryptionFailedError() *SecureError {
	return &SecureError{
		Code:      ErrCodeDecryptionFailed,
		Category:  CategoryCrypto,
		Severity:  SeverityHigh,
		Message:   DecryptionFailedMessage,
		Timestamp: time.Now(),
	}
}

// getErrorMetadata returns the category and severity for an error code
func getErrorMetadata(code ErrorCode) (ErrorCategory, ErrorSeverity) {
	switch code {
	case ErrCodeMissingProvider, ErrCodeUnsealedValue:
		return CategoryCrypto, SeverityCritical
	case ErrCodeProvider, ErrCodeDecode, ErrCodeEncode, ErrCodeDecryptionFailed, ErrCodeInvalidRecord:
		return CategoryCrypto, SeverityHigh

	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout:
		return CategoryConnection, SeverityHigh

	case ErrCodeQueryTimeout, ErrCodeQueryExecution, ErrCodeInvalidQuery:
		return CategoryQuery, SeverityMedium

	case ErrCodeRecordNotFound:
		return CategoryData, SeverityLow
	case ErrCodeDuplicateKey, ErrCodeConstraintViolation, ErrCodeInvalidData, ErrCodeInvalidInput:
		return CategoryData, SeverityMedium

	case ErrCodeMigrationFailed:
		return CategoryMigration, SeverityCritical

	case ErrCodeConfiguration, ErrCodeInvalidConfig, ErrCodeMissingConfig, ErrCodeConfigValidation:
		return CategoryConfiguration, SeverityHigh

	default:
		return CategoryGeneral, SeverityMedium
	}
}

// includeStackTrace determines if a stack trace should be included based on severity
func includeStackTrace(severity ErrorSeverity) bool {
	return severity == SeverityHigh || severity == SeverityCritical
}

// getStackTrace captures the current stack trace
func getStackTrace(skip int) string {
	const maxStackDepth = 10
	pc := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+1, pc)

	if n == 0 {
		return "no stack trace available"
	}

	frames := runtime.CallersFrames(pc[:n])
	var stackLines []string

	for {
		frame, more := frames.Next()
		stackLines = append(stackLines, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}

	return strings.Join(stackLines, "\n")
}

// WrapGormError wraps a GORM error into a structured SecureError
func WrapGormError(err error, operation string) *SecureError {
	if err == nil {
		return nil
	}

	var se *SecureError
	if errors.As(err, &se) {
		return se
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return New(ErrCodeRecordNotFound, "Record not found", err).
			WithOperation(operation).
			WithUserMessage("The requested record was not found")

	case errors.Is(err, gorm.ErrMissingWhereClause):
		return New(ErrCodeInvalidQuery, "Missing WHERE clause", err).
			WithOperation(operation)

	case errors.Is(err, gorm.ErrPrimaryKeyRequired), errors.Is(err, gorm.ErrModelValueRequired), errors.Is(err, gorm.ErrInvalidData):
		return New(ErrCodeInvalidData, "Invalid data", err).
			WithOperation(operation)

	default:
		errMsg := strings.ToLower(err.Error())

		switch {
		case strings.Contains(errMsg, "connection"):
			if strings.Contains(errMsg, "timeout") {
				return New(ErrCodeConnectionTimeout, "Database connection timeout", err).WithOperation(operation)
			}
			return New(ErrCodeConnectionFailed, "Database connection failed", err).WithOperation(operation)

		case strings.Contains(errMsg, "timeout"):
			return New(ErrCodeQueryTimeout, "Query timeout", err).WithOperation(operation)

		case strings.Contains(errMsg, "duplicate") || strings.Contains(errMsg, "unique"):
			return New(ErrCodeDuplicateKey, "Duplicate key violation", err).
				WithOperation(operation).
				WithUserMessage("A record with this identifier already exists")

		case strings.Contains(errMsg, "constraint"):
			return New(ErrCodeConstraintViolation, "Constraint violation", err).WithOperation(operation)

		default:
			return New(ErrCodeQueryExecution, "Database operation failed", err).WithOperation(operation)
		}
	}
}

// WrapError wraps a generic error into a SecureError
func WrapError(err error, code ErrorCode, message string) *SecureError {
	if err == nil {
		return nil
	}
	return New(code, message, err)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var se *SecureError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeUnknown
}

// HasCode reports whether err is a SecureError carrying code
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// IsConfigurationError reports unknown configuration keys and invalid model setups
func IsConfigurationError(err error) bool { return HasCode(err, ErrCodeConfiguration) }

// IsMissingProvider reports that no provider could be resolved
func IsMissingProvider(err error) bool { return HasCode(err, ErrCodeMissingProvider) }

// IsProviderError reports a raw cipher failure
func IsProviderError(err error) bool { return HasCode(err, ErrCodeProvider) }

// IsDecodeError reports a raw deserialization failure
func IsDecodeError(err error) bool { return HasCode(err, ErrCodeDecode) }

// IsDecryptionFailed reports the opaque decrypt-boundary failure
func IsDecryptionFailed(err error) bool { return HasCode(err, ErrCodeDecryptionFailed) }

// IsCryptoError checks if an error belongs to the crypto category
func IsCryptoError(err error) bool {
	var se *SecureError
	if errors.As(err, &se) {
		return se.Category == CategoryCrypto
	}
	return false
}

// GetUserMessage extracts a user-friendly message from an error
func GetUserMessage(err error) string {
	var se *SecureError
	if errors.As(err, &se) && se.UserMessage != "" {
		return se.UserMessage
	}
	return "An error occurred while processing your request"
}

// ErrorCollector gathers the failures of a multi-record operation, keeping at most
// maxCount of them
type ErrorCollector struct {
	errs     []error
	maxCount int
}

func NewErrorCollector(maxCount int) *ErrorCollector {
	return &ErrorCollector{maxCount: maxCount}
}

// Add records err; nil errors and errors beyond the limit are dropped
func (ec *ErrorCollector) Add(err error) {
	if err == nil || len(ec.errs) >= ec.maxCount {
		return
	}
	ec.errs = append(ec.errs, err)
}

func (ec *ErrorCollector) HasErrors() bool {
	return len(ec.errs) > 0
}

func (ec *ErrorCollector) Errors() []error {
	return ec.errs
}

func (ec *ErrorCollector) Error() string {
	if len(ec.errs) < 2 {
		if len(ec.errs) == 0 {
			return ""
		}
		return ec.errs[0].Error()
	}
	var b strings.Builder
	b.WriteString("Multiple errors occurred:")
	for i, err := range ec.errs {
		fmt.Fprintf(&b, "\n%d: %s", i+1, err)
	}
	return b.String()
}

// ToSecureError folds the collected errors into one SecureError, keeping the code of a
// single collected SecureError. The individual errors stay reachable through errors.Is
// and errors.As on the cause.
func (ec *ErrorCollector) ToSecureError(operation string) *SecureError {
	switch len(ec.errs) {
	case 0:
		return nil
	case 1:
		var se *SecureError
		if errors.As(ec.errs[0], &se) {
			return se.WithOperation(operation)
		}
		return WrapError(ec.errs[0], ErrCodeOperationFailed, "Operation failed").WithOperation(operation)
	}
	return New(ErrCodeOperationFailed, "Multiple errors occurred", errors.Join(ec.errs...)).
		WithOperation(operation).
		WithDetails(fmt.Sprintf("%d errors", len(ec.errs)))
}

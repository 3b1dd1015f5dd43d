package common

import (
	"errors"
	"fmt"
)

// Error codes carried by AppError. The first six form the pipeline taxonomy.
const (
	CodeRasterization         = "RASTERIZATION_ERROR"
	CodeExtraction            = "EXTRACTION_ERROR"
	CodeParse                 = "PARSE_ERROR"
	CodeValidation            = "VALIDATION_ERROR"
	CodeReconciliationWarning = "RECONCILIATION_WARNING"
	CodePersistence           = "PERSISTENCE_ERROR"

	CodeSessionBusy       = "SESSION_BUSY"
	CodeSaveInProgress    = "SAVE_IN_PROGRESS"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotFound          = "NOT_FOUND"
	CodeConfig            = "CONFIG_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	// Status is the upstream HTTP status for extraction failures, 0 when unknown.
	Status int
	Cause  error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrDatabase       = errors.New("database error")
	ErrValidation     = errors.New("validation failed")
	ErrRender         = errors.New("document could not be rendered")
	ErrUpstream       = errors.New("extraction provider failed")
	ErrNoJSON         = errors.New("no json object in model output")
	ErrDuplicate      = errors.New("possible duplicate entry")
	ErrSessionBusy    = errors.New("session is busy")
	ErrSaveInProgress = errors.New("save already in progress")
	ErrTransition     = errors.New("event not allowed in current state")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func RasterizationError(message string, cause error) *AppError {
	return NewAppError(CodeRasterization, message, causeOr(cause, ErrRender))
}

// ExtractionError keeps the provider status so callers can tell auth failures from outages.
func ExtractionError(status int, message string, cause error) *AppError {
	e := NewAppError(CodeExtraction, message, causeOr(cause, ErrUpstream))
	e.Status = status
	return e
}

func ParseError(message string, cause error) *AppError {
	return NewAppError(CodeParse, message, causeOr(cause, ErrNoJSON))
}

func ValidationFailed(message string) *AppError {
	return NewAppError(CodeValidation, message, ErrValidation)
}

func PersistenceError(message string, cause error) *AppError {
	return NewAppError(CodePersistence, message, causeOr(cause, ErrDatabase))
}

func causeOr(cause, fallback error) error {
	if cause == nil {
		return fallback
	}
	return cause
}

// KindOf returns the code of the outermost AppError in err's chain, or "" if there is none.
func KindOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsKind reports whether err carries the given AppError code.
func IsKind(err error, code string) bool {
	return err != nil && KindOf(err) == code
}

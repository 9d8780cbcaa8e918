// Package errors provides standardized error types for the assistant pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the pipeline stages.
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInvalidSQL            = "INVALID_SQL"
	CodeUnsupportedQueryShape = "UNSUPPORTED_QUERY_SHAPE"
	CodeExecutionTimeout      = "EXECUTION_TIMEOUT"
	CodeExecutionFailed       = "EXECUTION_FAILED"
	CodeGenerationFailed      = "GENERATION_FAILED"
	CodeRetrievalFailed       = "RETRIEVAL_FAILED"
	CodeConnectionFailed      = "CONNECTION_FAILED"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeInternal              = "INTERNAL_ERROR"
)

// AssistantError represents a pipeline error with code, message, and optional details.
type AssistantError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *AssistantError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AssistantError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by code.
func (e *AssistantError) Is(target error) bool {
	t, ok := target.(*AssistantError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails adds details to the error.
func (e *AssistantError) WithDetails(details map[string]interface{}) *AssistantError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AssistantError) WithDetail(key string, value interface{}) *AssistantError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common errors
var (
	ErrEmptyQuestion        = &AssistantError{Code: CodeInvalidRequest, Message: "question cannot be empty"}
	ErrEmptyTenant          = &AssistantError{Code: CodeInvalidRequest, Message: "user id cannot be empty"}
	ErrInvalidSQL           = &AssistantError{Code: CodeInvalidSQL, Message: "sql failed validation"}
	ErrUnsupportedShape     = &AssistantError{Code: CodeUnsupportedQueryShape, Message: "query shape does not support tenant isolation"}
	ErrExecutionTimeout     = &AssistantError{Code: CodeExecutionTimeout, Message: "query execution timeout"}
	ErrConnectionFailed     = &AssistantError{Code: CodeConnectionFailed, Message: "database connection failed"}
	ErrAlreadyIsolated      = &AssistantError{Code: CodeInternal, Message: "query already carries a tenant filter"}
	ErrGenerationEmpty      = &AssistantError{Code: CodeGenerationFailed, Message: "model returned no sql"}
	ErrProviderUnconfigured = &AssistantError{Code: CodeGenerationFailed, Message: "llm provider is not configured"}
)

// New creates a new AssistantError with the given code and message.
func New(code, message string) *AssistantError {
	return &AssistantError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AssistantError.
func Wrap(err error, code, message string) *AssistantError {
	if err == nil {
		return nil
	}
	return &AssistantError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *AssistantError {
	if err == nil {
		return nil
	}
	return &AssistantError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsInvalidSQL checks if an error is a validation rejection.
func IsInvalidSQL(err error) bool {
	var aerr *AssistantError
	if errors.As(err, &aerr) {
		return aerr.Code == CodeInvalidSQL
	}
	return false
}

// IsTimeout checks if an error is an execution timeout.
func IsTimeout(err error) bool {
	var aerr *AssistantError
	if errors.As(err, &aerr) {
		return aerr.Code == CodeExecutionTimeout
	}
	return false
}

// IsUnsupportedShape checks if an error is a rewrite rejection.
func IsUnsupportedShape(err error) bool {
	var aerr *AssistantError
	if errors.As(err, &aerr) {
		return aerr.Code == CodeUnsupportedQueryShape
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var aerr *AssistantError
	if errors.As(err, &aerr) {
		return aerr.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var aerr *AssistantError
	if errors.As(err, &aerr) {
		return aerr.Message
	}
	return err.Error()
}

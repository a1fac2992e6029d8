package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
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

// Rejection errors: detected synchronously at submission, no job is created.
var (
	ErrUnsupportedFormat       = errors.New("unsupported file format")
	ErrMalformedInput          = errors.New("malformed tabular input")
	ErrUnrecognizedInstruction = errors.New("unrecognized instruction")
	ErrInvalidColumnSelection  = errors.New("invalid column selection")
)

// Lookup and lifecycle errors.
var (
	ErrNotFound = errors.New("resource not found")
	ErrNotReady = errors.New("result not ready")
)

// Job-fatal errors: terminate a job in FAILED state with a recorded cause.
var (
	ErrSerialization = errors.New("result serialization failed")
	ErrTimeout       = errors.New("job exceeded time limit")
)

// Infrastructure errors.
var (
	ErrDatabase = errors.New("database error")
	ErrStorage  = errors.New("blob storage error")
	ErrInternal = errors.New("internal error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsRejection reports whether err belongs to the submission-time rejection
// class, i.e. the caller should get the error back and no job may exist.
func IsRejection(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrMalformedInput) ||
		errors.Is(err, ErrUnrecognizedInstruction) ||
		errors.Is(err, ErrInvalidColumnSelection)
}

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Kapy error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrInvalidChannel      ErrorCode = "INVALID_CHANNEL"      // 400
	ErrNotFound            ErrorCode = "NOT_FOUND"            // 404
	ErrUnknownSkill        ErrorCode = "UNKNOWN_SKILL"        // 404
	ErrConflict            ErrorCode = "CONFLICT"             // 409
	ErrDestinationConflict ErrorCode = "DESTINATION_CONFLICT" // 409
	ErrCorruptRecord       ErrorCode = "CORRUPT_RECORD"       // 422
	ErrCancelled           ErrorCode = "CANCELLED"            // 499
	ErrInternal            ErrorCode = "INTERNAL"             // 500
)

// KapyError represents a structured error with code, status, and details.
type KapyError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// Cause is the underlying error, if any. Not serialized.
	Cause error
}

// Error implements the error interface.
func (e *KapyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *KapyError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *KapyError {
	return &KapyError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidChannel creates a 400 error for a malformed channel string.
func NewInvalidChannel(value, reason string) *KapyError {
	return &KapyError{
		Code:    ErrInvalidChannel,
		Status:  400,
		Message: fmt.Sprintf("invalid channel %q: %s", value, reason),
		Details: map[string]any{"channel": value, "reason": reason},
	}
}

// NewNotFound creates a 404 error for when a record cannot be found.
func NewNotFound(identifier string) *KapyError {
	return &KapyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("record not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing input file.
func NewFileNotFound(path string) *KapyError {
	return &KapyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewUnknownSkill creates a 404 error for a derived skill name the registry
// does not know.
func NewUnknownSkill(name string) *KapyError {
	return &KapyError{
		Code:    ErrUnknownSkill,
		Status:  404,
		Message: fmt.Sprintf("skill not registered: %s", name),
		Details: map[string]any{"skill": name},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *KapyError {
	return &KapyError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewDestinationConflict creates a 409 error when an output path already exists.
func NewDestinationConflict(path string) *KapyError {
	return &KapyError{
		Code:    ErrDestinationConflict,
		Status:  409,
		Message: fmt.Sprintf("output destination already exists: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewCorruptRecord creates a 422 error for a stored entry that cannot be read
// or parsed.
func NewCorruptRecord(where string, cause error) *KapyError {
	msg := "unreadable record"
	if cause != nil {
		msg = cause.Error()
	}
	return &KapyError{
		Code:    ErrCorruptRecord,
		Status:  422,
		Message: fmt.Sprintf("corrupt record at %s: %s", where, msg),
		Details: map[string]any{"location": where},
		Cause:   cause,
	}
}

// NewCancelled creates a 499 error when an operation is cancelled by the caller.
func NewCancelled(op string) *KapyError {
	return &KapyError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *KapyError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &KapyError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if an error is (or wraps) a KapyError with the given code.
func Is(err error, code ErrorCode) bool {
	var kErr *KapyError
	if stderrors.As(err, &kErr) {
		return kErr.Code == code
	}
	return false
}

// As returns the KapyError in err's chain, if any.
func As(err error) (*KapyError, bool) {
	var kErr *KapyError
	if stderrors.As(err, &kErr) {
		return kErr, true
	}
	return nil, false
}

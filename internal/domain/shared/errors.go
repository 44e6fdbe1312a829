package shared

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound        = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput    = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState    = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrUnauthorized    = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrBulkInProgress  = NewDomainError("BULK_IN_PROGRESS", "Another bulk action is still running")
	ErrEmptySelection  = NewDomainError("EMPTY_SELECTION", "No records selected")
	ErrRecordNotInView = NewDomainError("RECORD_NOT_IN_VIEW", "Record is not part of the current view")
)

// ErrStaleResponse marks a response that arrived for a superseded request or edit.
// It is never shown to the user.
var ErrStaleResponse = errors.New("stale response discarded")

// ValidationError is raised for malformed input before any request is issued
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Remote error codes used when the backend does not supply its own
const (
	RemoteCodeNetwork     = "NETWORK_ERROR"
	RemoteCodeDecode      = "DECODE_ERROR"
	RemoteCodeHTTP        = "HTTP_ERROR"
	RemoteCodeDatabase    = "DATABASE_ERROR"
	RemoteCodeUnsupported = "UNSUPPORTED"
	RemoteCodeNotFound    = "NOT_FOUND"
	RemoteCodeInvalid     = "INVALID_REQUEST"
)

// RemoteError is returned when the backend rejected or failed to process a request
type RemoteError struct {
	Op      string `json:"op,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

// Unwrap returns the underlying transport or driver error, if any
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError creates a new remote error
func NewRemoteError(op, code, message string) *RemoteError {
	return &RemoteError{Op: op, Code: code, Message: message}
}

// WrapRemote wraps a lower level error into a RemoteError.
// Errors that already are remote errors keep their code and gain the op if missing.
func WrapRemote(op, code string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		if re.Op == "" {
			re.Op = op
		}
		return re
	}
	return &RemoteError{Op: op, Code: code, Message: err.Error(), Err: err}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRemote reports whether err is a RemoteError
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// ErrorCode extracts a stable code from any error produced by this module
func ErrorCode(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "VALIDATION_ERROR"
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL_ERROR"
}

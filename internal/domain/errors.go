package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError with the same code and message, so wrapped
// sentinel errors still satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeCapabilityAbsent = "CAPABILITY_ABSENT"
	ErrCodeProviderFailure  = "PROVIDER_FAILURE"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidDocumentID    = NewDomainError(ErrCodeValidation, "invalid document id")
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrSelfLink             = NewDomainError(ErrCodeValidation, "a document cannot link to itself")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
)

// Capability errors
var (
	ErrNoEmbeddingCredentials  = NewDomainError(ErrCodeCapabilityAbsent, "embedding provider credentials not configured")
	ErrNoCompletionCredentials = NewDomainError(ErrCodeCapabilityAbsent, "completion provider credentials not configured")
	ErrVectorIndexUnavailable  = NewDomainError(ErrCodeCapabilityAbsent, "vector index not loaded")
)

// Provider errors
var (
	ErrProviderFailure   = NewDomainError(ErrCodeProviderFailure, "provider call failed")
	ErrMalformedResponse = NewDomainError(ErrCodeProviderFailure, "provider returned malformed data")
)

// IsCapabilityAbsent reports whether err stems from a missing capability.
func IsCapabilityAbsent(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Code == ErrCodeCapabilityAbsent
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when no subscription matches a lookup.
	ErrNotFound = errors.New("subscription not found")
	// ErrMalformedPayload marks webhook bodies that can never be processed.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Error codes used at the transport boundary
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// DomainError carries a stable code alongside a message. It unwraps to
// its cause so sentinel checks keep working.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	cause   error
}

func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

// NewMalformedPayloadError reports a webhook body that failed decoding or
// field validation.
func NewMalformedPayloadError(details string) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidInput,
		Message: "malformed webhook payload",
		Details: details,
		cause:   ErrMalformedPayload,
	}
}

// NewInvalidInputError reports a request rejected for what it carries.
func NewInvalidInputError(message string, cause error) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidInput,
		Message: message,
		cause:   cause,
	}
}

func NewNotFoundError(resource, id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: fmt.Sprintf("ID: %s", id),
		cause:   ErrNotFound,
	}
}

func NewUnauthorizedError(message string, cause error) *DomainError {
	return &DomainError{
		Code:    ErrCodeUnauthorized,
		Message: message,
		cause:   cause,
	}
}

// NewInternalError wraps a failure that should make the provider retry.
func NewInternalError(message string, cause error) *DomainError {
	return &DomainError{
		Code:    ErrCodeInternal,
		Message: message,
		cause:   cause,
	}
}

// IsMalformed reports whether err stems from an unprocessable payload.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedPayload)
}

// GetDomainError extracts a DomainError from anywhere in err's chain.
func GetDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

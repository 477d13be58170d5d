package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")
	// ErrAlreadyExists is returned when trying to create a resource that already exists
	ErrAlreadyExists = errors.New("resource already exists")
	// ErrValidation is returned when input validation fails
	ErrValidation = errors.New("validation error")
	// ErrUnauthorized is returned when a caller is not authenticated
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a caller is not allowed to touch a resource
	ErrForbidden = errors.New("forbidden")
)

// Pix lifecycle errors
var (
	// ErrDuplicateTxid is returned when a transaction with the same txid is already stored.
	ErrDuplicateTxid = fmt.Errorf("duplicate txid: %w", ErrAlreadyExists)
	// ErrGatewayUnavailable is returned when the payment gateway cannot be reached or fails transiently.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected is returned when the payment gateway refuses a request and retrying will not help.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
	// ErrInvalidStateTransition is returned when an explicit operation is not allowed from the current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrStorageUnavailable is returned when the transaction store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUnknownExternalStatus is returned when the gateway reports a status outside the known vocabulary.
	ErrUnknownExternalStatus = errors.New("unknown external status")
)

// ValidationError carries the field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

package provider

import (
	"errors"
	"fmt"
)

// Common errors for provider operations.
var (
	// ErrAuth indicates authentication with the backend failed.
	ErrAuth = errors.New("provider authentication failed")

	// ErrZoneNotFound indicates the configured zone does not exist or is
	// not visible to the configured credentials.
	ErrZoneNotFound = errors.New("zone not found")

	// ErrNotFound indicates a record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates an identical record already exists.
	ErrConflict = errors.New("record already exists")

	// ErrValidation indicates a desired record failed validation. It
	// rejects that single record; the rest of the batch continues.
	ErrValidation = errors.New("record validation failed")

	// ErrNetwork indicates the backend API was unreachable or timed out.
	// The affected call is counted and retried next cycle.
	ErrNetwork = errors.New("provider unreachable")
)

// ValidationError describes why one desired record was rejected.
type ValidationError struct {
	Name    string // record name
	Field   string // offending field, if one
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid record %s: %s: %s", e.Name, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid record %s: %s", e.Name, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ProviderError wraps an error with provider and operation context.
type ProviderError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context. Returns nil for nil.
func WrapError(provider, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Operation: operation, Err: err}
}

// IsAuth returns true if the error indicates failed authentication.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsZoneNotFound returns true if the error indicates a missing zone.
func IsZoneNotFound(err error) bool {
	return errors.Is(err, ErrZoneNotFound)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates the record already exists.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation returns true if the error indicates a rejected record.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNetwork returns true if the error indicates an unreachable backend.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Package shared contains common domain types, errors and events that are used
// across all domain packages.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrConfiguration   = errors.New("unknown configuration value")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Infrastructure errors
	ErrStorage            = errors.New("storage error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "event", "achievement", "user"
	Op      string // Operation that failed, e.g., "CreateEvent", "UpdateProgress"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validation builds a validation error.
func Validation(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// Validationf builds a validation error with a formatted message.
func Validationf(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// UnknownValue reports a value outside a closed enumeration. It matches both
// ErrValidation and ErrConfiguration.
func UnknownValue(domain, op, what, value string) *DomainError {
	return WrapError(domain, op, ErrValidation,
		fmt.Sprintf("unknown %s %q", what, value), ErrConfiguration)
}

// NotFound builds a not-found error.
func NotFound(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrNotFound, message)
}

// Storage wraps a persistence failure.
func Storage(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrStorage, "storage failure", err)
}

// Event domain errors
var (
	ErrEventNotFound      = NewDomainError("event", "Find", ErrNotFound, "event not found")
	ErrEventNotActive     = NewDomainError("event", "CheckStatus", ErrInvalidState, "event is not in progress")
	ErrInvalidTransition  = NewDomainError("event", "UpdateStatus", ErrStateTransition, "invalid event status transition")
	ErrNoConditionGroups  = NewDomainError("event", "Validate", ErrValidation, "event needs at least one condition group")
	ErrEmptyConditionList = NewDomainError("event", "Validate", ErrValidation, "condition group needs at least one condition")
	ErrInvalidAmount      = NewDomainError("event", "Participate", ErrValidation, "participation amount must be positive")
)

// Achievement domain errors
var (
	ErrAchievementNotFound     = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrUserAchievementNotFound = NewDomainError("achievement", "FindUserAchievement", ErrNotFound, "user achievement not found")
	ErrCriterionNotFound       = NewDomainError("achievement", "FindCriterion", ErrNotFound, "criterion not found")
)

// User domain errors
var (
	ErrUserNotFound = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrInvalidUser  = NewDomainError("user", "Validate", ErrInvalidID, "invalid user ID")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConfiguration checks if the error reports an unknown enum value.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsStorage checks if the error came from the persistence layer.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

/*
errors.go - Centralized error types for the compte engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Stores and services wrap these with context using %w so callers can
  match with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Lookup errors - account or client missing
  2. Validation errors - lifecycle and input rule violations
  3. Store errors - persistence failures and version conflicts

SEE ALSO:
  - lifecycle.go: returns InvalidStateError
  - store.go: StorageError wraps driver errors
  - api/handlers.go: maps kinds to HTTP status codes
*/
package banking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an account is absent from both stores.
	ErrNotFound = errors.New("account not found")

	// ErrAccessDenied is returned when a non-admin reads someone else's account.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidState is returned when a lifecycle transition is not allowed
	// from the account's current status.
	ErrInvalidState = errors.New("invalid account state")

	// ErrInvalidAccountType is returned when a savings-only operation targets
	// another account type.
	ErrInvalidAccountType = errors.New("invalid account type")

	ErrInvalidDuration = errors.New("invalid block duration")

	// ErrInvalidSpec is returned for malformed create/update/entry input.
	ErrInvalidSpec = errors.New("invalid specification")

	ErrStorageFailure = errors.New("storage failure")

	// ErrClientNotFound is returned when an explicit client id does not resolve.
	ErrClientNotFound = errors.New("client not found")

	// ErrDuplicateAccountNumber is returned when number generation keeps colliding.
	ErrDuplicateAccountNumber = errors.New("duplicate account number")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrEntryNotFound = errors.New("entry not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError reports a refused lifecycle transition.
type InvalidStateError struct {
	AccountID AccountID
	Operation string
	Status    AccountStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s account %s in status %q", e.Operation, e.AccountID, e.Status)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Available string
	Requested string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// StorageError wraps an underlying driver error. It matches both
// ErrStorageFailure and the cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

// WrapStorage returns nil for nil errors and passes through errors that are
// already classified (not found, conflicts) so they keep their kind.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateAccountNumber) || errors.Is(err, ErrStorageFailure) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateAccountNumber) ||
		errors.Is(err, ErrStorageFailure)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidAccountType) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrInvalidSpec) ||
		errors.Is(err, ErrInsufficientFunds)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

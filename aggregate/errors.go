/*
errors.go - Error taxonomy for the recompute engine

ERROR CATEGORIES:
  1. Not found   - customer missing at recompute time. Expected, no write.
  2. Storage     - read or write failure. Retryable.
  3. Enumeration - batch could not list customers. Fatal for the run.

USAGE:
  _, err := rc.RecomputeCustomer(ctx, id)
  switch {
  case aggregate.IsNotFound(err):
      // normal outcome (concurrent delete)
  case aggregate.IsRetryable(err):
      // try again later
  }
*/
package aggregate

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCustomerNotFound is returned when the customer does not exist.
	// Callers treat this as a normal outcome, not an alarm.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrStorage is returned when the ledger store fails to read or write.
	ErrStorage = errors.New("storage failure")

	// ErrEnumeration is returned when the batch job cannot list customers.
	ErrEnumeration = errors.New("customer enumeration failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type NotFoundError struct {
	CustomerID CustomerID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("customer %d not found", e.CustomerID)
}

func (e *NotFoundError) Unwrap() error { return ErrCustomerNotFound }

// StorageError wraps an underlying store failure with the failing step.
type StorageError struct {
	Op         string // e.g. "load sales", "save aggregates"
	CustomerID CustomerID
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("customer %d: %s: %v", e.CustomerID, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("list customers: %v", e.Err)
}

func (e *EnumerationError) Unwrap() []error { return []error{ErrEnumeration, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the customer did not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
// Recompute is a full rebuild, so retrying never double counts.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// storageErr wraps err unless it is already classified.
func storageErr(op string, id CustomerID, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, ErrCustomerNotFound) {
		return err
	}
	return &StorageError{Op: op, CustomerID: id, Err: err}
}

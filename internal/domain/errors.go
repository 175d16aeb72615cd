package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the core taxonomy. Callers classify with errors.Is.
var (
	// ErrInsufficientData means too few closed baseline periods exist for a
	// key. It is a skip signal, not a failure.
	ErrInsufficientData = errors.New("insufficient baseline data")

	// ErrConcurrencyConflict means another run for the same customer is
	// already in flight. The new run was not started.
	ErrConcurrencyConflict = errors.New("computation already in progress for customer")

	// ErrMissingCustomer means a core entry point was invoked without a
	// resolved customer identity.
	ErrMissingCustomer = errors.New("customer identity required")
)

// ValidationError marks a single malformed aggregate input. It rejects the
// one (payer, cpt-group) pair; the customer run continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid aggregate: %s %s", e.Field, e.Reason)
}

// PersistenceError wraps a storage failure at the commit boundary. The whole
// run transitions to failed; nothing is left partially visible.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RunFailedError surfaces a failed run to the caller with the run ID so the
// operator can retry with a fresh run.
type RunFailedError struct {
	RunID string
	Err   error
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s failed: %v", e.RunID, e.Err)
}

func (e *RunFailedError) Unwrap() error { return e.Err }

/*
errors.go - Centralized error types for the credit engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Expected conditions (insufficient credits, unknown code) are returned
  as tagged errors; only store failures propagate as wrapped errors.

USAGE:
  if errors.Is(err, credits.ErrInsufficientCredits) {
      var ice *credits.InsufficientCreditsError
      errors.As(err, &ice) // ice.Available for display
  }
*/
package credits

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when a mutation targets an account
	// with no credit record. Award/Spend never auto-create.
	ErrAccountNotFound = errors.New("account credit record not found")

	// ErrAlreadyInitialized is returned by Initialize when a record
	// already exists. This is the guard against double signup bonuses.
	ErrAlreadyInitialized = errors.New("account credits already initialized")

	// ErrInsufficientCredits is returned when a spend or validation
	// exceeds the available balance. Recoverable by the caller.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrCodeNotFound is returned when a referral code resolves to no
	// account.
	ErrCodeNotFound = errors.New("referral code not found")

	// ErrSelfReferral is returned when an account tries to use its own
	// referral code.
	ErrSelfReferral = errors.New("self-referral not allowed")

	// ErrReferralAlreadyCredited is returned when a referral bonus for
	// the same (referrer, referred) pair was already awarded.
	ErrReferralAlreadyCredited = errors.New("referral bonus already credited")

	// ErrInvalidAmount is returned when an operation receives a
	// non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrStoreUnavailable wraps transport/backend failures from the
	// ledger store. Not retried automatically.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrStoreRequired is returned when an operation requires a store
	// capability (Reporter, Watcher) the configured store lacks.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditsError carries the actual available balance so the
// checkout UI can show it.
type InsufficientCreditsError struct {
	AccountID AccountID
	Requested int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is an expected condition the
// caller should surface to the user rather than retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrAlreadyInitialized) ||
		errors.Is(err, ErrSelfReferral) ||
		errors.Is(err, ErrReferralAlreadyCredited) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing record or code.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCodeNotFound)
}

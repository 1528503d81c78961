/*
errors.go - Centralized error taxonomy for the claim pipeline

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is / errors.As; the API layer maps these
  to HTTP statuses with the helper predicates at the bottom.

ERROR CATEGORIES:
  1. Not-found errors    - claim/student/category absent
  2. Validation errors   - business rule violations at request time
  3. Transition errors   - illegal or conflicting gate decisions
  4. Concurrency errors  - compare-and-set lost a race; retry the call

IDEMPOTENCY NOTE:
  Re-sending an identical decision is a SUCCESS, not an error. Only a
  conflicting decision on a terminal claim raises ErrAlreadyFinalized.

SEE ALSO:
  - statemachine.go: Raises transition errors
  - issuer.go: Raises InsufficientCreditsError at finalization
  - ledger/ledger.go: Underlying balance errors wrapped here
*/
package claims

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bprnd/certification-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrClaimNotFound is returned when a referenced claim doesn't exist.
	ErrClaimNotFound = errors.New("claim not found")

	// ErrStudentNotFound is returned when a referenced student doesn't exist.
	ErrStudentNotFound = errors.New("student not found")

	// ErrInvalidCategory is returned when the category key is unknown.
	ErrInvalidCategory = errors.New("unknown category")

	// ErrInvalidQualification is returned when the qualification level is
	// not defined for the category.
	ErrInvalidQualification = errors.New("unknown qualification level for category")

	// ErrInsufficientCredits is returned when the student's balance is below
	// the requirement. At submission it is an informational reject; at
	// finalization it aborts the admin-approval transition with no mutation.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrOutOfOrderApproval is returned when admin approval is attempted
	// before the POC gate has been passed.
	ErrOutOfOrderApproval = errors.New("admin approval before poc approval")

	// ErrAlreadyFinalized is returned when a decision conflicts with what a
	// terminal claim already records (e.g. declining an approved claim).
	ErrAlreadyFinalized = errors.New("claim already finalized")

	// ErrConcurrencyConflict is returned when a compare-and-set status
	// transition lost a race. The caller should retry the whole decision.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditsError provides details about a credit shortage.
type InsufficientCreditsError struct {
	StudentID   ledger.StudentID
	CategoryKey string
	Available   decimal.Decimal
	Required    decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits in %s for %s: available %s, required %s",
		e.CategoryKey, e.StudentID, e.Available, e.Required)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// TransitionError provides details about an illegal transition attempt.
type TransitionError struct {
	ClaimID ClaimID
	From    Status
	Attempt string
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s claim %s in status %s: %v",
		e.Attempt, e.ClaimID, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input
// or a business rule the caller violated.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrInvalidQualification) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrOutOfOrderApproval) ||
		errors.Is(err, ErrAlreadyFinalized)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClaimNotFound) ||
		errors.Is(err, ErrStudentNotFound)
}

/*
Package ledger provides the per-student credit ledger.

PURPOSE:
  Tracks how many training credits a student has accumulated in each
  category (e.g. "Criminology", "Forensics"). The ledger is the single
  mutation target for certification debits: when a claim is finalized,
  the required credits are deducted here.

KEY CONCEPTS IN THIS FILE (ledger.go):
  - CreditLedger: category -> balance mapping with a derived Total
  - Student: the entity that owns a CreditLedger

CRITICAL INVARIANTS:
  1. Total == sum of all category balances, after EVERY mutation
  2. No balance ever goes negative
  3. Debit is all-or-nothing: an insufficient-funds debit mutates nothing

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Total is denormalized for cheap reads but recomputed on every write,
     so it can never drift from the balances map

USAGE:
  l := ledger.NewCreditLedger()
  l.Credit("Criminology", decimal.NewFromInt(30))
  err := l.Debit("Criminology", decimal.NewFromInt(25))
  // l.Balance("Criminology") == 5, l.Total == 5

SEE ALSO:
  - claims/issuer.go: Debits this ledger during finalization
  - claims/credits.go: Credits this ledger when trainings complete
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a debit exceeds the category balance.
	ErrInsufficientBalance = errors.New("insufficient credit balance")

	// ErrNegativeAmount is returned when a credit or debit amount is not positive.
	ErrNegativeAmount = errors.New("amount must be positive")

	// ErrLedgerDrift is returned by CheckInvariant when Total does not equal
	// the sum of category balances. This should never happen; it indicates a
	// bug or corrupted storage.
	ErrLedgerDrift = errors.New("ledger total does not match sum of balances")
)

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Category  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in %s: available %s, requested %s",
		e.Category, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// CREDIT LEDGER - category -> balance, with derived Total
// =============================================================================

// CreditLedger maps a category key to the student's accumulated credit
// balance in that category. Total is derived and maintained on every
// mutation; it is never set independently.
type CreditLedger struct {
	Balances map[string]decimal.Decimal
	Total    decimal.Decimal
}

func NewCreditLedger() CreditLedger {
	return CreditLedger{
		Balances: make(map[string]decimal.Decimal),
		Total:    decimal.Zero,
	}
}

// Balance returns the balance for a category. Unknown categories are zero.
func (l *CreditLedger) Balance(category string) decimal.Decimal {
	if b, ok := l.Balances[category]; ok {
		return b
	}
	return decimal.Zero
}

// Credit adds amount to a category balance. Amount must be positive.
func (l *CreditLedger) Credit(category string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	if l.Balances == nil {
		l.Balances = make(map[string]decimal.Decimal)
	}
	l.Balances[category] = l.Balance(category).Add(amount)
	l.Recompute()
	return nil
}

// Debit subtracts amount from a category balance. Amount must be positive
// and must not exceed the current balance. On failure nothing is mutated.
func (l *CreditLedger) Debit(category string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	available := l.Balance(category)
	if available.LessThan(amount) {
		return &InsufficientBalanceError{
			Category:  category,
			Available: available,
			Requested: amount,
		}
	}
	l.Balances[category] = available.Sub(amount)
	l.Recompute()
	return nil
}

// Recompute rebuilds Total from the balances map.
func (l *CreditLedger) Recompute() {
	total := decimal.Zero
	for _, b := range l.Balances {
		total = total.Add(b)
	}
	l.Total = total
}

// CheckInvariant verifies Total == sum of balances and no balance is negative.
func (l *CreditLedger) CheckInvariant() error {
	sum := decimal.Zero
	for category, b := range l.Balances {
		if b.IsNegative() {
			return fmt.Errorf("%w: negative balance in %s", ErrLedgerDrift, category)
		}
		sum = sum.Add(b)
	}
	if !sum.Equal(l.Total) {
		return fmt.Errorf("%w: total %s, sum %s", ErrLedgerDrift, l.Total, sum)
	}
	return nil
}

// Clone returns a deep copy. Stores use this to hand out snapshots that
// callers can mutate without aliasing stored state.
func (l *CreditLedger) Clone() CreditLedger {
	balances := make(map[string]decimal.Decimal, len(l.Balances))
	for k, v := range l.Balances {
		balances[k] = v
	}
	return CreditLedger{Balances: balances, Total: l.Total}
}

// =============================================================================
// STUDENT - Owner of a credit ledger
// =============================================================================

type StudentID string

// Student is the entity that accumulates credits and submits claims.
// OrgID identifies the partner organization the student belongs to;
// POC actors only see claims from their own organization.
type Student struct {
	ID        StudentID
	Name      string
	Email     string
	OrgID     string
	Credits   CreditLedger
	CreatedAt time.Time
}

// Clone returns a deep copy of the student, including the ledger.
func (s *Student) Clone() Student {
	out := *s
	out.Credits = s.Credits.Clone()
	return out
}

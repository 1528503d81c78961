/*
credits.go - Credit accrual into the student ledger

PURPOSE:
  CreditService is how completed trainings feed the credit ledger. The
  POC or admin portal records the credits a student earned in a category;
  the ledger's Total stays consistent with the per-category balances.

  This is the only write path into the ledger besides finalization's
  debit. There is no notion of spending here; claims spend.

SEE ALSO:
  - ledger/ledger.go: The ledger being credited
  - issuer.go: The debit side
*/
package claims

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bprnd/certification-engine/catalog"
	"github.com/bprnd/certification-engine/ledger"
)

// =============================================================================
// CREDIT SERVICE
// =============================================================================

// CreditService grants training credits to students.
type CreditService struct {
	Store   TxStore
	Catalog *catalog.Catalog
}

func NewCreditService(store TxStore, cat *catalog.Catalog) *CreditService {
	return &CreditService{Store: store, Catalog: cat}
}

// Grant credits a student's balance in a category. The category must be
// registered and the amount positive. Returns the updated student.
// source is recorded by callers that keep provenance (claim courses);
// the ledger itself stores only balances.
func (s *CreditService) Grant(
	ctx context.Context,
	studentID ledger.StudentID,
	categoryKey string,
	amount decimal.Decimal,
	source string,
) (*ledger.Student, error) {
	if !s.Catalog.Has(categoryKey) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, categoryKey)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	var result *ledger.Student
	err := s.Store.WithTx(ctx, func(tx Store) error {
		student, err := tx.GetStudent(ctx, studentID)
		if err != nil {
			return err
		}
		if student == nil {
			return fmt.Errorf("%w: %s", ErrStudentNotFound, studentID)
		}

		if err := student.Credits.Credit(categoryKey, amount); err != nil {
			return err
		}
		if err := tx.SaveStudent(ctx, *student); err != nil {
			return err
		}
		result = student
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

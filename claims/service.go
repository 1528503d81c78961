/*
service.go - Claim submission and role-scoped queries

PURPOSE:
  ClaimService handles the claim-store operations: creating a claim with
  a snapshotted credit requirement, fetching by id, and the role-scoped
  list projections each portal renders.

SUBMISSION FLOW:
  1. Resolve the category + qualification level in the catalog
  2. Snapshot the credit requirement into the claim (immutable after)
  3. Pre-check the student's current balance (informational reject; the
     authoritative check happens again at finalization, because other
     claims can spend the balance in between)
  4. Persist the claim in `pending`

LIST PROJECTIONS:
  Student: own claims, full status
  POC:     own-org claims still awaiting the POC gate (by default)
  Admin:   POC-approved claims awaiting the admin gate (by default)
  Explicit status filters override the role defaults. Pure query, no
  state change.

SEE ALSO:
  - statemachine.go: What happens to a claim after submission
  - catalog/catalog.go: Requirement lookups
*/
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bprnd/certification-engine/catalog"
	"github.com/bprnd/certification-engine/ledger"
)

// =============================================================================
// CLAIM SERVICE
// =============================================================================

// ClaimService creates and queries claims. Dependencies are injected;
// the service owns no connections.
type ClaimService struct {
	Store   TxStore
	Catalog *catalog.Catalog
}

func NewClaimService(store TxStore, cat *catalog.Catalog) *ClaimService {
	return &ClaimService{Store: store, Catalog: cat}
}

// Submit creates a new claim in `pending` for the student.
// Courses are opaque provenance, copied verbatim.
func (s *ClaimService) Submit(
	ctx context.Context,
	studentID ledger.StudentID,
	categoryKey string,
	qualificationLevel string,
	courses []CourseRef,
) (*Claim, error) {
	required, err := s.Catalog.Required(categoryKey, qualificationLevel)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownCategory) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, categoryKey)
		}
		if errors.Is(err, catalog.ErrUnknownLevel) {
			return nil, fmt.Errorf("%w: %q in %q", ErrInvalidQualification, qualificationLevel, categoryKey)
		}
		return nil, err
	}

	var claim *Claim
	err = s.Store.WithTx(ctx, func(tx Store) error {
		student, err := tx.GetStudent(ctx, studentID)
		if err != nil {
			return err
		}
		if student == nil {
			return ErrStudentNotFound
		}

		// Pre-check only. The live balance is re-read inside the
		// finalization transaction.
		available := student.Credits.Balance(categoryKey)
		if available.LessThan(required) {
			return &InsufficientCreditsError{
				StudentID:   studentID,
				CategoryKey: categoryKey,
				Available:   available,
				Required:    required,
			}
		}

		now := time.Now().UTC()
		claim = &Claim{
			ID:                 ClaimID("clm-" + uuid.NewString()),
			StudentID:          studentID,
			OrgID:              student.OrgID,
			CategoryKey:        categoryKey,
			QualificationLevel: qualificationLevel,
			RequiredCredits:    required,
			Courses:            append([]CourseRef(nil), courses...),
			Status:             StatusPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		return tx.SaveClaim(ctx, *claim)
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// Get fetches a claim by id.
func (s *ClaimService) Get(ctx context.Context, id ClaimID) (*Claim, error) {
	claim, err := s.Store.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, fmt.Errorf("%w: %s", ErrClaimNotFound, id)
	}
	return claim, nil
}

// ListForActor returns the claims visible to an actor. scope is the
// student id for students and the organization id for POC actors;
// admins ignore it. An explicit status filter overrides the role's
// default projection.
func (s *ClaimService) ListForActor(ctx context.Context, actor Actor, scope string, filter ClaimFilter) ([]Claim, error) {
	switch actor.Role {
	case RoleStudent:
		filter.StudentID = ledger.StudentID(scope)
	case RolePOC:
		filter.OrgID = scope
		if len(filter.Statuses) == 0 {
			// Awaiting the POC gate.
			filter.Statuses = []Status{StatusPending}
		}
	case RoleAdmin:
		if len(filter.Statuses) == 0 {
			// Awaiting the admin gate.
			filter.Statuses = []Status{StatusPOCApproved}
		}
	default:
		return nil, fmt.Errorf("unknown role %q", actor.Role)
	}

	return s.Store.ListClaims(ctx, filter)
}

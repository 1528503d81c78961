/*
issuer.go - Finalization: atomic credit debit + certificate mint

PURPOSE:
  Finalize is the exactly-once step triggered by admin approval. Inside
  the caller's transaction it:
    1. Skips everything if a certificate already exists for the claim
       (the one-to-one back-reference makes admin approval idempotent)
    2. Re-reads the student's LIVE balance - not the snapshot taken at
       submission - so concurrently-approved claims cannot overspend
    3. Debits the ledger (balance and Total both drop by the requirement)
    4. Allocates the next per-category sequence number
    5. Writes the certificate and flips the claim to approved

ATOMICITY:
  All five steps run inside the one store transaction opened by
  AdminApprove. Any failure rolls everything back: no debit without a
  certificate, no certificate without a debit, no burned sequence
  numbers.

SEQUENCE NUMBERS:
  NextCertificateSequence has increment-and-read semantics serialized by
  the store. Two claims in the same category finalizing concurrently get
  consecutive numbers, never the same one. Numbers start at 1 and have
  no gaps because aborted transactions roll the counter back.

SEE ALSO:
  - statemachine.go: The transaction this runs inside
  - store.go: Counter and CAS contracts
*/
package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultCertificatePrefix is the issuing-authority prefix embedded in
// certificate numbers.
const DefaultCertificatePrefix = "rru"

// =============================================================================
// CERTIFICATE ISSUER
// =============================================================================

// CertificateIssuer mints certificates during finalization.
type CertificateIssuer struct {
	Prefix string
}

func NewCertificateIssuer(prefix string) *CertificateIssuer {
	if prefix == "" {
		prefix = DefaultCertificatePrefix
	}
	return &CertificateIssuer{Prefix: prefix}
}

// Finalize performs the atomic debit + mint for a POC-approved claim.
// It MUST be called inside a store transaction; tx is the transactional
// store handle. On success the claim is approved and finalized; on any
// error the caller's transaction rolls back and the claim is untouched.
func (i *CertificateIssuer) Finalize(ctx context.Context, tx Store, claim *Claim, actor Actor) (*Claim, error) {
	// Step 0: idempotency. A certificate for this claim means a previous
	// finalization already committed; re-running is a no-op.
	existing, err := tx.CertificateForClaim(ctx, claim.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return claim, nil
	}

	// Step 1-2: authoritative balance check against the live ledger.
	student, err := tx.GetStudent(ctx, claim.StudentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, fmt.Errorf("%w: %s", ErrStudentNotFound, claim.StudentID)
	}

	available := student.Credits.Balance(claim.CategoryKey)
	if available.LessThan(claim.RequiredCredits) {
		return nil, &InsufficientCreditsError{
			StudentID:   claim.StudentID,
			CategoryKey: claim.CategoryKey,
			Available:   available,
			Required:    claim.RequiredCredits,
		}
	}

	// Step 3: debit. The ledger keeps Total consistent with the balances.
	if err := student.Credits.Debit(claim.CategoryKey, claim.RequiredCredits); err != nil {
		return nil, fmt.Errorf("debit failed: %w", err)
	}
	if err := tx.SaveStudent(ctx, *student); err != nil {
		return nil, err
	}

	// Step 4: allocate the next per-category sequence number.
	seq, err := tx.NextCertificateSequence(ctx, claim.CategoryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate certificate sequence: %w", err)
	}

	// Step 5: mint the certificate and flip the claim to approved.
	now := time.Now().UTC()
	cert := Certificate{
		ID:                 CertificateID("cert-" + uuid.NewString()),
		StudentID:          claim.StudentID,
		CategoryKey:        claim.CategoryKey,
		QualificationLevel: claim.QualificationLevel,
		ClaimID:            claim.ID,
		Sequence:           seq,
		Number:             FormatCertificateNumber(i.Prefix, claim.CategoryKey, seq),
		IssuedAt:           now,
	}
	if err := tx.SaveCertificate(ctx, cert); err != nil {
		return nil, err
	}

	if err := tx.TransitionStatus(ctx, claim.ID, StatusPOCApproved, StatusApproved); err != nil {
		return nil, err
	}

	claim.Status = StatusApproved
	claim.AdminApproval = &Approval{Actor: actor, At: now, Decision: DecisionApproved}
	claim.FinalizedAt = &now
	claim.UpdatedAt = now
	if err := tx.SaveClaim(ctx, *claim); err != nil {
		return nil, err
	}

	return claim, nil
}

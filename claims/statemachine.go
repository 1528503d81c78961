/*
statemachine.go - Approval gates and transition rules

PURPOSE:
  ApprovalService enforces the legal transition sequence:

    pending ──poc approve──▶ poc_approved ──admin approve──▶ approved
       │                         │                 │
       └──────decline────────────┴─────────────────┘
                            declined (terminal)

  Admin approval and finalization are ONE transition: the credit debit,
  certificate mint and status change commit together, so there is no
  window where a claim reads approved with credits still undeducted.

IDEMPOTENCY RULES:
  - Re-sending an identical decision is a harmless no-op success. This
    tolerates double-clicks and network retries from the portals.
  - A conflicting decision on a terminal claim is ErrAlreadyFinalized.
  - Admin approval before the POC gate is ErrOutOfOrderApproval.

SERIALIZATION:
  Every decision runs inside TxStore.WithTx, and every status change
  goes through the compare-and-set TransitionStatus. Two racing calls
  both enter a transaction; the CAS loser gets ErrConcurrencyConflict,
  its transaction rolls back, and the caller retries against the new
  state (where the retry is usually an idempotent no-op).

SEE ALSO:
  - issuer.go: Finalization invoked by AdminApprove
  - errors.go: The transition error taxonomy
*/
package claims

import (
	"context"
	"time"
)

// =============================================================================
// APPROVAL SERVICE
// =============================================================================

// ApprovalService applies gate decisions to claims.
type ApprovalService struct {
	Store  TxStore
	Issuer *CertificateIssuer
}

func NewApprovalService(store TxStore, issuer *CertificateIssuer) *ApprovalService {
	return &ApprovalService{Store: store, Issuer: issuer}
}

// loadClaim fetches a claim inside a transaction, mapping absence to
// ErrClaimNotFound.
func loadClaim(ctx context.Context, tx Store, id ClaimID) (*Claim, error) {
	claim, err := tx.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrClaimNotFound
	}
	return claim, nil
}

// =============================================================================
// POC GATE
// =============================================================================

// PocApprove records the first-gate approval. Legal only from pending;
// a repeated approval is a no-op, a conflicting decision on a declined
// claim is ErrAlreadyFinalized.
func (s *ApprovalService) PocApprove(ctx context.Context, id ClaimID, actor Actor) (*Claim, error) {
	var result *Claim
	err := s.Store.WithTx(ctx, func(tx Store) error {
		claim, err := loadClaim(ctx, tx, id)
		if err != nil {
			return err
		}

		// Already past the POC gate with an approval: no-op.
		if claim.POCApproval != nil && claim.POCApproval.Decision == DecisionApproved {
			result = claim
			return nil
		}

		if claim.Status.Terminal() {
			return &TransitionError{ClaimID: id, From: claim.Status, Attempt: "poc-approve", Err: ErrAlreadyFinalized}
		}

		if err := tx.TransitionStatus(ctx, id, StatusPending, StatusPOCApproved); err != nil {
			return err
		}

		now := time.Now().UTC()
		claim.Status = StatusPOCApproved
		claim.POCApproval = &Approval{Actor: actor, At: now, Decision: DecisionApproved}
		claim.UpdatedAt = now
		if err := tx.SaveClaim(ctx, *claim); err != nil {
			return err
		}
		result = claim
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PocDecline declines at the first gate. Legal from pending or
// poc_approved; declining an already-declined claim is a no-op,
// declining an approved claim is ErrAlreadyFinalized. Terminal.
func (s *ApprovalService) PocDecline(ctx context.Context, id ClaimID, actor Actor) (*Claim, error) {
	var result *Claim
	err := s.Store.WithTx(ctx, func(tx Store) error {
		claim, err := loadClaim(ctx, tx, id)
		if err != nil {
			return err
		}

		switch claim.Status {
		case StatusDeclined:
			result = claim // identical terminal outcome: no-op
			return nil
		case StatusApproved:
			return &TransitionError{ClaimID: id, From: claim.Status, Attempt: "poc-decline", Err: ErrAlreadyFinalized}
		}

		if err := tx.TransitionStatus(ctx, id, claim.Status, StatusDeclined); err != nil {
			return err
		}

		now := time.Now().UTC()
		claim.Status = StatusDeclined
		claim.POCApproval = &Approval{Actor: actor, At: now, Decision: DecisionDeclined}
		claim.UpdatedAt = now
		if err := tx.SaveClaim(ctx, *claim); err != nil {
			return err
		}
		result = claim
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// ADMIN GATE
// =============================================================================

// AdminApprove records the second-gate approval and finalizes the claim
// in the same transaction: fresh balance check, credit debit,
// certificate mint, status -> approved. If finalization fails (e.g. the
// balance dropped below the requirement since submission) the whole
// transaction aborts and the claim stays poc_approved for a later retry.
func (s *ApprovalService) AdminApprove(ctx context.Context, id ClaimID, actor Actor) (*Claim, error) {
	var result *Claim
	err := s.Store.WithTx(ctx, func(tx Store) error {
		claim, err := loadClaim(ctx, tx, id)
		if err != nil {
			return err
		}

		switch {
		case claim.Status == StatusApproved:
			result = claim // already finalized: no-op
			return nil
		case claim.Status == StatusDeclined:
			return &TransitionError{ClaimID: id, From: claim.Status, Attempt: "admin-approve", Err: ErrAlreadyFinalized}
		case !claim.Status.PastPOCGate():
			return &TransitionError{ClaimID: id, From: claim.Status, Attempt: "admin-approve", Err: ErrOutOfOrderApproval}
		}

		finalized, err := s.Issuer.Finalize(ctx, tx, claim, actor)
		if err != nil {
			return err
		}
		result = finalized
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdminDecline declines at the second gate. Legal any time before
// terminal; no credit or certificate side effects. Declining a declined
// claim is a no-op, declining an approved claim is ErrAlreadyFinalized.
func (s *ApprovalService) AdminDecline(ctx context.Context, id ClaimID, actor Actor) (*Claim, error) {
	var result *Claim
	err := s.Store.WithTx(ctx, func(tx Store) error {
		claim, err := loadClaim(ctx, tx, id)
		if err != nil {
			return err
		}

		switch claim.Status {
		case StatusDeclined:
			result = claim
			return nil
		case StatusApproved:
			return &TransitionError{ClaimID: id, From: claim.Status, Attempt: "admin-decline", Err: ErrAlreadyFinalized}
		}

		if err := tx.TransitionStatus(ctx, id, claim.Status, StatusDeclined); err != nil {
			return err
		}

		now := time.Now().UTC()
		claim.Status = StatusDeclined
		claim.AdminApproval = &Approval{Actor: actor, At: now, Decision: DecisionDeclined}
		claim.UpdatedAt = now
		if err := tx.SaveClaim(ctx, *claim); err != nil {
			return err
		}
		result = claim
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

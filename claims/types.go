/*
Package claims implements the certification claim pipeline.

PURPOSE:
  A student accumulates per-category training credits, requests a
  certification at a qualification level, and the request passes through
  two independent human approval gates: the partner-organization POC
  first, then central Admin. On final approval the engine atomically
  deducts the claimed credits and mints a uniquely numbered certificate,
  exactly once, even under retries or concurrent approvals.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: the closed state enum, the ONLY source of truth for progress
  - Claim: a certification request with its approval sub-records
  - Certificate: the minted credential, one per finalized claim
  - Actor: a verified identity (role + id) supplied by the auth layer

STATE MACHINE:
  pending -> poc_approved -> approved
                 |
     declined (terminal, reachable from any non-terminal state)

  Admin approval and finalization are collapsed into one transition:
  there is no window where the claim reads "approved" but credits have
  not yet been deducted.

DESIGN PRINCIPLES:
  1. Status is a single tagged enum; the "poc approved" style booleans
     are derived methods, never stored fields that can drift
  2. RequiredCredits is snapshotted at submission and immutable after
  3. Courses are opaque provenance, copied verbatim and never recomputed

SEE ALSO:
  - statemachine.go: Transition rules and idempotency
  - issuer.go: Finalization (debit + certificate mint)
  - store.go: Persistence interfaces
*/
package claims

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bprnd/certification-engine/ledger"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClaimID string
type CertificateID string

// =============================================================================
// ACTOR - Verified identity from the external auth layer
// =============================================================================

type Role string

const (
	RoleStudent Role = "student"
	RolePOC     Role = "poc"
	RoleAdmin   Role = "admin"
)

// Actor is the identity attached to every decision call. The engine
// trusts the auth layer for who the actor is, but still enforces gate
// ordering independent of the claimed role.
type Actor struct {
	Role        Role
	ID          string
	DisplayName string
}

// =============================================================================
// STATUS - Single source of truth for claim progress
// =============================================================================

type Status string

const (
	StatusPending     Status = "pending"
	StatusPOCApproved Status = "poc_approved"
	StatusApproved    Status = "approved"
	StatusDeclined    Status = "declined"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

// PastPOCGate reports whether the POC gate has been passed.
// Derived from the enum, never stored separately.
func (s Status) PastPOCGate() bool {
	return s == StatusPOCApproved || s == StatusApproved
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPOCApproved, StatusApproved, StatusDeclined:
		return true
	}
	return false
}

// =============================================================================
// DECISIONS AND APPROVAL RECORDS
// =============================================================================

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDeclined Decision = "declined"
)

// Approval records who decided what, and when, at one gate.
// A claim exclusively owns its approval sub-records; they are written by
// the state machine only, never independently.
type Approval struct {
	Actor    Actor
	At       time.Time
	Decision Decision
}

// =============================================================================
// CLAIM - A certification request
// =============================================================================

// CourseRef is one contributing training record justifying the credit
// total. Informational only: the engine copies it verbatim and never
// validates or recomputes it.
type CourseRef struct {
	Source        string
	CreditsEarned decimal.Decimal
}

// Claim is a student's request to be certified at a qualification level
// within a category. Claims are never deleted; they end in approved or
// declined.
type Claim struct {
	ID                 ClaimID
	StudentID          ledger.StudentID
	OrgID              string
	CategoryKey        string
	QualificationLevel string

	// RequiredCredits is snapshotted from the catalog at submission time
	// and immutable after. Finalization re-checks against the live
	// balance, not this snapshot.
	RequiredCredits decimal.Decimal

	Courses []CourseRef

	Status        Status
	POCApproval   *Approval
	AdminApproval *Approval

	FinalizedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// alias stored state.
func (c *Claim) Clone() Claim {
	out := *c
	out.Courses = append([]CourseRef(nil), c.Courses...)
	if c.POCApproval != nil {
		a := *c.POCApproval
		out.POCApproval = &a
	}
	if c.AdminApproval != nil {
		a := *c.AdminApproval
		out.AdminApproval = &a
	}
	if c.FinalizedAt != nil {
		t := *c.FinalizedAt
		out.FinalizedAt = &t
	}
	return out
}

// =============================================================================
// CERTIFICATE - Minted exactly once per finalized claim
// =============================================================================

// Certificate is the credential minted at finalization. Never mutated,
// never deleted. ClaimID is a one-to-one back-reference: at most one
// certificate exists per claim, and its presence is what makes repeated
// admin approval idempotent.
type Certificate struct {
	ID                 CertificateID
	StudentID          ledger.StudentID
	CategoryKey        string
	QualificationLevel string
	ClaimID            ClaimID
	Sequence           int64
	Number             string
	IssuedAt           time.Time
}

// FormatCertificateNumber builds the public certificate number:
// <prefix>_<categoryKey>_<sequence>, sequence strictly increasing per
// category starting at 1.
func FormatCertificateNumber(prefix, categoryKey string, seq int64) string {
	return fmt.Sprintf("%s_%s_%d", prefix, categoryKey, seq)
}

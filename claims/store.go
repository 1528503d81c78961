/*
store.go - Persistence interfaces for students, claims and certificates

PURPOSE:
  Defines the interface between the claim pipeline and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Reads and writes for students, claims, certificates, counters
  TxStore: Store plus WithTx for atomic multi-record operations

ATOMICITY CONTRACT:
  WithTx() ensures all-or-nothing semantics. Finalizing a claim touches
  four records (student ledger, certificate counter, certificate, claim);
  either all four commit or none do. A crash or a concurrent finalization
  must never produce a debit without a certificate, or vice versa.

COMPARE-AND-SET:
  TransitionStatus only succeeds if the stored status still matches the
  expected pre-state. This is the per-claim serialization primitive: two
  racing admin approvals both enter WithTx, but only one CAS wins; the
  loser observes the already-minted certificate and no-ops.

COUNTER CONTRACT:
  NextCertificateSequence returns 1, 2, 3... per category with
  increment-and-read semantics. Inside WithTx the increment rolls back
  with the transaction, so an aborted finalization burns no numbers.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - store/memory: In-memory for testing

SEE ALSO:
  - statemachine.go: Runs every decision inside WithTx
  - issuer.go: Uses the counter and certificate writes
*/
package claims

import (
	"context"

	"github.com/bprnd/certification-engine/ledger"
)

// =============================================================================
// STORE - Reads and writes
// =============================================================================

// Store handles persistence for the claim pipeline. Lookups return
// (nil, nil) when the record is absent; services translate that into the
// typed not-found errors.
type Store interface {
	// Students (and their embedded credit ledgers)
	GetStudent(ctx context.Context, id ledger.StudentID) (*ledger.Student, error)
	SaveStudent(ctx context.Context, s ledger.Student) error
	ListStudents(ctx context.Context) ([]ledger.Student, error)

	// Claims
	GetClaim(ctx context.Context, id ClaimID) (*Claim, error)
	SaveClaim(ctx context.Context, c Claim) error
	ListClaims(ctx context.Context, filter ClaimFilter) ([]Claim, error)

	// TransitionStatus atomically moves a claim from one status to another.
	// Returns ErrConcurrencyConflict if the stored status is not `from`,
	// ErrClaimNotFound if the claim is absent.
	TransitionStatus(ctx context.Context, id ClaimID, from, to Status) error

	// Certificates
	GetCertificate(ctx context.Context, id CertificateID) (*Certificate, error)
	CertificateForClaim(ctx context.Context, claimID ClaimID) (*Certificate, error)
	SaveCertificate(ctx context.Context, cert Certificate) error
	ListCertificates(ctx context.Context, filter CertificateFilter) ([]Certificate, error)

	// NextCertificateSequence atomically increments and returns the
	// per-category counter. First call for a category returns 1.
	NextCertificateSequence(ctx context.Context, categoryKey string) (int64, error)
}

// TxStore wraps Store with transaction support.
// If fn returns an error, every write made through the Store it received
// is rolled back; otherwise all writes commit together.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTERS
// =============================================================================

// ClaimFilter narrows ListClaims. Zero values mean "no constraint".
type ClaimFilter struct {
	StudentID ledger.StudentID
	OrgID     string
	Statuses  []Status
}

// Matches reports whether a claim satisfies the filter. Shared by the
// store implementations so filtering semantics cannot diverge.
func (f ClaimFilter) Matches(c *Claim) bool {
	if f.StudentID != "" && c.StudentID != f.StudentID {
		return false
	}
	if f.OrgID != "" && c.OrgID != f.OrgID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if c.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// CertificateFilter narrows ListCertificates.
type CertificateFilter struct {
	StudentID   ledger.StudentID
	CategoryKey string
}

func (f CertificateFilter) Matches(c *Certificate) bool {
	if f.StudentID != "" && c.StudentID != f.StudentID {
		return false
	}
	if f.CategoryKey != "" && c.CategoryKey != f.CategoryKey {
		return false
	}
	return true
}

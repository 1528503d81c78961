package claims_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bprnd/certification-engine/catalog"
	"github.com/bprnd/certification-engine/claims"
	"github.com/bprnd/certification-engine/ledger"
	"github.com/bprnd/certification-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type pipeline struct {
	store     *memory.Store
	claims    *claims.ClaimService
	approvals *claims.ApprovalService
	credits   *claims.CreditService
}

func newTestPipeline(t *testing.T) *pipeline {
	t.Helper()
	store := memory.New()
	cat := catalog.Default()
	return &pipeline{
		store:     store,
		claims:    claims.NewClaimService(store, cat),
		approvals: claims.NewApprovalService(store, claims.NewCertificateIssuer("")),
		credits:   claims.NewCreditService(store, cat),
	}
}

func (p *pipeline) seedStudent(t *testing.T, id string, category string, credits int64) {
	t.Helper()
	ctx := context.Background()
	err := p.store.SaveStudent(ctx, ledger.Student{
		ID:      ledger.StudentID(id),
		Name:    "Student " + id,
		OrgID:   "org-1",
		Credits: ledger.NewCreditLedger(),
	})
	require.NoError(t, err)
	if credits > 0 {
		_, err = p.credits.Grant(ctx, ledger.StudentID(id), category,
			decimal.NewFromInt(credits), "seed")
		require.NoError(t, err)
	}
}

func (p *pipeline) balance(t *testing.T, id string, category string) decimal.Decimal {
	t.Helper()
	student, err := p.store.GetStudent(context.Background(), ledger.StudentID(id))
	require.NoError(t, err)
	require.NotNil(t, student)
	return student.Credits.Balance(category)
}

var (
	pocActor   = claims.Actor{Role: claims.RolePOC, ID: "poc-1", DisplayName: "Org POC"}
	adminActor = claims.Actor{Role: claims.RoleAdmin, ID: "admin-1", DisplayName: "HQ Admin"}
)

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmit_SnapshotsRequirementAndStartsPending(t *testing.T) {
	// GIVEN: A student with 30 Criminology credits
	// WHEN: Submitting a foundation claim (requires 25)
	// THEN: Claim is pending with the requirement snapshotted, no debit yet

	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)

	claim, err := p.claims.Submit(context.Background(), "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)

	assert.Equal(t, claims.StatusPending, claim.Status)
	assert.True(t, claim.RequiredCredits.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "org-1", claim.OrgID)
	assert.Nil(t, claim.POCApproval)

	// Submission never touches the ledger.
	assert.True(t, p.balance(t, "stu-1", "Criminology").Equal(decimal.NewFromInt(30)))
}

func TestSubmit_UnknownCategory(t *testing.T) {
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)

	_, err := p.claims.Submit(context.Background(), "stu-1", "Astrology", "foundation", nil)
	assert.ErrorIs(t, err, claims.ErrInvalidCategory)
}

func TestSubmit_UnknownLevel(t *testing.T) {
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)

	_, err := p.claims.Submit(context.Background(), "stu-1", "Criminology", "galactic", nil)
	assert.ErrorIs(t, err, claims.ErrInvalidQualification)
}

func TestSubmit_InsufficientCredits_Rejected(t *testing.T) {
	// Pre-check at submission: 10 < 25 is an informational reject.
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 10)

	_, err := p.claims.Submit(context.Background(), "stu-1", "Criminology", "foundation", nil)

	require.Error(t, err)
	var insufficientErr *claims.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.True(t, insufficientErr.Available.Equal(decimal.NewFromInt(10)))
	assert.True(t, insufficientErr.Required.Equal(decimal.NewFromInt(25)))
}

func TestSubmit_UnknownStudent(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.claims.Submit(context.Background(), "ghost", "Criminology", "foundation", nil)
	assert.ErrorIs(t, err, claims.ErrStudentNotFound)
}

// =============================================================================
// HAPPY PATH - both gates, certificate, debit
// =============================================================================

func TestPipeline_FullApproval_MintsCertificateAndDebits(t *testing.T) {
	// GIVEN: 30 Criminology credits and a pending foundation claim (25)
	// WHEN: POC approves, then admin approves
	// THEN: Claim is approved, balance is 5, certificate rru_Criminology_1

	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)
	ctx := context.Background()

	claim, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)

	claim, err = p.approvals.PocApprove(ctx, claim.ID, pocActor)
	require.NoError(t, err)
	assert.Equal(t, claims.StatusPOCApproved, claim.Status)
	require.NotNil(t, claim.POCApproval)
	assert.Equal(t, claims.DecisionApproved, claim.POCApproval.Decision)
	assert.Equal(t, "poc-1", claim.POCApproval.Actor.ID)

	claim, err = p.approvals.AdminApprove(ctx, claim.ID, adminActor)
	require.NoError(t, err)
	assert.Equal(t, claims.StatusApproved, claim.Status)
	require.NotNil(t, claim.AdminApproval)
	require.NotNil(t, claim.FinalizedAt)

	assert.True(t, p.balance(t, "stu-1", "Criminology").Equal(decimal.NewFromInt(5)))

	cert, err := p.store.CertificateForClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, "rru_Criminology_1", cert.Number)
	assert.Equal(t, int64(1), cert.Sequence)
	assert.Equal(t, claim.ID, cert.ClaimID)
}

func TestPipeline_SequencesArePerCategory(t *testing.T) {
	// Two Criminology finalizations then one Forensics: Criminology gets
	// 1 and 2, Forensics starts over at 1.

	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 100)
	p.seedStudent(t, "stu-2", "Criminology", 100)
	p.seedStudent(t, "stu-3", "Forensics", 100)
	ctx := context.Background()

	finalize := func(studentID, category string) *claims.Certificate {
		claim, err := p.claims.Submit(ctx, ledger.StudentID(studentID), category, "foundation", nil)
		require.NoError(t, err)
		_, err = p.approvals.PocApprove(ctx, claim.ID, pocActor)
		require.NoError(t, err)
		_, err = p.approvals.AdminApprove(ctx, claim.ID, adminActor)
		require.NoError(t, err)
		cert, err := p.store.CertificateForClaim(ctx, claim.ID)
		require.NoError(t, err)
		require.NotNil(t, cert)
		return cert
	}

	assert.Equal(t, "rru_Criminology_1", finalize("stu-1", "Criminology").Number)
	assert.Equal(t, "rru_Criminology_2", finalize("stu-2", "Criminology").Number)
	assert.Equal(t, "rru_Forensics_1", finalize("stu-3", "Forensics").Number)
}

// =============================================================================
// GATE ORDERING
// =============================================================================

func TestAdminApprove_BeforePOCGate_Rejected(t *testing.T) {
	// GIVEN: A pending claim that the POC has not reviewed
	// WHEN: Admin tries to approve
	// THEN: ErrOutOfOrderApproval, claim unchanged, no debit, no certificate

	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)
	ctx := context.Background()

	claim, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)

	_, err = p.approvals.AdminApprove(ctx, claim.ID, adminActor)
	assert.ErrorIs(t, err, claims.ErrOutOfOrderApproval)

	stored, err := p.store.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, claims.StatusPending, stored.Status)
	assert.True(t, p.balance(t, "stu-1", "Criminology").Equal(decimal.NewFromInt(30)))

	cert, err := p.store.CertificateForClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Nil(t, cert)
}

// =============================================================================
// DECLINES
// =============================================================================

func TestPocDecline_IsTerminal(t *testing.T) {
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)
	ctx := context.Background()

	claim, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)

	claim, err = p.approvals.PocDecline(ctx, claim.ID, pocActor)
	require.NoError(t, err)
	assert.Equal(t, claims.StatusDeclined, claim.Status)
	require.NotNil(t, claim.POCApproval)
	assert.Equal(t, claims.DecisionDeclined, claim.POCApproval.Decision)

	// A conflicting approval on the declined claim is rejected.
	_, err = p.approvals.PocApprove(ctx, claim.ID, pocActor)
	assert.ErrorIs(t, err, claims.ErrAlreadyFinalized)

	_, err = p.approvals.AdminApprove(ctx, claim.ID, adminActor)
	assert.ErrorIs(t, err, claims.ErrAlreadyFinalized)
}

func TestAdminDecline_AfterPOCApproval_NoSideEffects(t *testing.T) {
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)
	ctx := context.Background()

	claim, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)
	_, err = p.approvals.PocApprove(ctx, claim.ID, pocActor)
	require.NoError(t, err)

	claim, err = p.approvals.AdminDecline(ctx, claim.ID, adminActor)
	require.NoError(t, err)
	assert.Equal(t, claims.StatusDeclined, claim.Status)

	// Declines never touch the ledger or mint anything.
	assert.True(t, p.balance(t, "stu-1", "Criminology").Equal(decimal.NewFromInt(30)))
	cert, err := p.store.CertificateForClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Nil(t, cert)
}

func TestDeclinedStudent_CanResubmit(t *testing.T) {
	// A declined claim is terminal, but the student may submit a fresh
	// claim for the same category and level.
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)
	ctx := context.Background()

	first, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)
	_, err = p.approvals.PocDecline(ctx, first.ID, pocActor)
	require.NoError(t, err)

	second, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, claims.StatusPending, second.Status)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestPocApprove_Repeated_IsNoOp(t *testing.T) {
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)
	ctx := context.Background()

	claim, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)

	first, err := p.approvals.PocApprove(ctx, claim.ID, pocActor)
	require.NoError(t, err)

	// Double-click: same decision again succeeds without changes.
	second, err := p.approvals.PocApprove(ctx, claim.ID, pocActor)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.POCApproval.At, second.POCApproval.At)
}

func TestAdminApprove_Repeated_MintsExactlyOnce(t *testing.T) {
	// GIVEN: A finalized claim
	// WHEN: Admin approves again (retry after timeout, say)
	// THEN: Success, but no second debit and no second certificate

	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 100)
	ctx := context.Background()

	claim, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)
	_, err = p.approvals.PocApprove(ctx, claim.ID, pocActor)
	require.NoError(t, err)
	_, err = p.approvals.AdminApprove(ctx, claim.ID, adminActor)
	require.NoError(t, err)

	_, err = p.approvals.AdminApprove(ctx, claim.ID, adminActor)
	require.NoError(t, err)

	assert.True(t, p.balance(t, "stu-1", "Criminology").Equal(decimal.NewFromInt(75)))

	certs, err := p.store.ListCertificates(ctx, claims.CertificateFilter{StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Len(t, certs, 1)
}

func TestDecline_Repeated_IsNoOp(t *testing.T) {
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)
	ctx := context.Background()

	claim, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)
	_, err = p.approvals.PocDecline(ctx, claim.ID, pocActor)
	require.NoError(t, err)

	// Identical terminal outcome from either gate: no-op success.
	_, err = p.approvals.PocDecline(ctx, claim.ID, pocActor)
	assert.NoError(t, err)
	_, err = p.approvals.AdminDecline(ctx, claim.ID, adminActor)
	assert.NoError(t, err)
}

func TestDecline_AfterFinalization_Rejected(t *testing.T) {
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 30)
	ctx := context.Background()

	claim, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)
	_, err = p.approvals.PocApprove(ctx, claim.ID, pocActor)
	require.NoError(t, err)
	_, err = p.approvals.AdminApprove(ctx, claim.ID, adminActor)
	require.NoError(t, err)

	_, err = p.approvals.AdminDecline(ctx, claim.ID, adminActor)
	assert.ErrorIs(t, err, claims.ErrAlreadyFinalized)
	_, err = p.approvals.PocDecline(ctx, claim.ID, pocActor)
	assert.ErrorIs(t, err, claims.ErrAlreadyFinalized)
}

// =============================================================================
// BALANCE DROP BETWEEN SUBMISSION AND FINALIZATION
// =============================================================================

func TestAdminApprove_BalanceDropped_AbortsAndStaysPOCApproved(t *testing.T) {
	// GIVEN: Two POC-approved foundation claims backed by a single 40-credit
	//        balance (each needs 25; both passed the submission pre-check)
	// WHEN: Admin approves both
	// THEN: The first finalizes; the second aborts with insufficient
	//       credits and REMAINS poc_approved so it can be retried after a
	//       future grant

	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 40)
	ctx := context.Background()

	first, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)
	second, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)

	_, err = p.approvals.PocApprove(ctx, first.ID, pocActor)
	require.NoError(t, err)
	_, err = p.approvals.PocApprove(ctx, second.ID, pocActor)
	require.NoError(t, err)

	_, err = p.approvals.AdminApprove(ctx, first.ID, adminActor)
	require.NoError(t, err)

	_, err = p.approvals.AdminApprove(ctx, second.ID, adminActor)
	require.Error(t, err)
	assert.ErrorIs(t, err, claims.ErrInsufficientCredits)

	// The failed claim is still waiting at the admin gate.
	stored, err := p.store.GetClaim(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, claims.StatusPOCApproved, stored.Status)

	// Only the first claim debited; only one certificate exists.
	assert.True(t, p.balance(t, "stu-1", "Criminology").Equal(decimal.NewFromInt(15)))
	certs, err := p.store.ListCertificates(ctx, claims.CertificateFilter{StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Len(t, certs, 1)

	// After another grant the stranded claim finalizes cleanly.
	_, err = p.credits.Grant(ctx, "stu-1", "Criminology", decimal.NewFromInt(10), "makeup training")
	require.NoError(t, err)
	_, err = p.approvals.AdminApprove(ctx, second.ID, adminActor)
	require.NoError(t, err)
	assert.True(t, p.balance(t, "stu-1", "Criminology").IsZero())
}

// =============================================================================
// NOT FOUND
// =============================================================================

func TestDecisions_UnknownClaim(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.approvals.PocApprove(ctx, "ghost", pocActor)
	assert.ErrorIs(t, err, claims.ErrClaimNotFound)
	_, err = p.approvals.AdminApprove(ctx, "ghost", adminActor)
	assert.ErrorIs(t, err, claims.ErrClaimNotFound)
	_, err = p.approvals.AdminDecline(ctx, "ghost", adminActor)
	assert.ErrorIs(t, err, claims.ErrClaimNotFound)
}

// =============================================================================
// ROLE-SCOPED LISTS
// =============================================================================

func TestListForActor_Projections(t *testing.T) {
	p := newTestPipeline(t)
	p.seedStudent(t, "stu-1", "Criminology", 100)
	ctx := context.Background()

	pending, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)
	waiting, err := p.claims.Submit(ctx, "stu-1", "Criminology", "foundation", nil)
	require.NoError(t, err)
	_, err = p.approvals.PocApprove(ctx, waiting.ID, pocActor)
	require.NoError(t, err)

	// Student sees everything of their own.
	list, err := p.claims.ListForActor(ctx, claims.Actor{Role: claims.RoleStudent, ID: "stu-1"},
		"stu-1", claims.ClaimFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// POC default projection: claims awaiting the POC gate in their org.
	list, err = p.claims.ListForActor(ctx, pocActor, "org-1", claims.ClaimFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending.ID, list[0].ID)

	// Admin default projection: claims awaiting the admin gate.
	list, err = p.claims.ListForActor(ctx, adminActor, "", claims.ClaimFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, waiting.ID, list[0].ID)
}

/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates students, grants
	credits and walks claims through the approval gates to demonstrate
	specific pipeline features.

AVAILABLE SCENARIOS:

	fresh-cohort:      Students with granted credits, no claims yet
	pending-approvals: Claims waiting at the POC and admin gates
	full-pipeline:     A claim approved end to end with a minted
	                   certificate and the debited ledger to match
	credit-shortfall:  A POC-approved claim whose student no longer has
	                   the credits, showing the finalization abort

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create students with org assignments
 3. Grant training credits per category
 4. Submit claims and apply gate decisions via the real services

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "full-pipeline"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Shared helpers and handler context
  - claims/statemachine.go: The gates the loaders drive
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/bprnd/certification-engine/claims"
	"github.com/bprnd/certification-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-cohort",
		Name:        "Fresh Cohort",
		Description: "Three students with granted credits, no claims yet",
	},
	{
		ID:          "pending-approvals",
		Name:        "Pending Approvals",
		Description: "Claims waiting at the POC gate and the admin gate",
	},
	{
		ID:          "full-pipeline",
		Name:        "Full Pipeline",
		Description: "A claim approved end to end with a minted certificate",
	},
	{
		ID:          "credit-shortfall",
		Name:        "Credit Shortfall",
		Description: "POC-approved claim that can no longer cover its requirement",
	},
}

// Resetter is implemented by stores that can wipe all data. Scenario
// loading requires it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	resetter, ok := h.Store.(Resetter)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Store does not support scenario loading", nil)
		return
	}

	ctx := r.Context()
	if err := resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "fresh-cohort":
		err = h.loadFreshCohort(ctx)
	case "pending-approvals":
		err = h.loadPendingApprovals(ctx)
	case "full-pipeline":
		err = h.loadFullPipeline(ctx)
	case "credit-shortfall":
		err = h.loadCreditShortfall(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ScenarioID})
}

// ResetDatabase wipes all data without loading anything.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Store does not support reset", nil)
		return
	}
	if err := resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedStudent(ctx context.Context, id, name, orgID string) error {
	return h.Store.SaveStudent(ctx, ledger.Student{
		ID:      ledger.StudentID(id),
		Name:    name,
		Email:   id + "@academy.example",
		OrgID:   orgID,
		Credits: ledger.NewCreditLedger(),
	})
}

func (h *Handler) grant(ctx context.Context, id, category string, amount int64) error {
	_, err := h.Credits.Grant(ctx, ledger.StudentID(id), category,
		decimal.NewFromInt(amount), "scenario seed")
	return err
}

// loadFreshCohort seeds students with credits and nothing in flight.
func (h *Handler) loadFreshCohort(ctx context.Context) error {
	students := []struct {
		id, name, org string
	}{
		{"stu-asha", "Asha Nair", "org-delhi"},
		{"stu-vikram", "Vikram Rao", "org-delhi"},
		{"stu-meera", "Meera Joshi", "org-mumbai"},
	}
	for _, s := range students {
		if err := h.seedStudent(ctx, s.id, s.name, s.org); err != nil {
			return err
		}
	}

	if err := h.grant(ctx, "stu-asha", "Criminology", 30); err != nil {
		return err
	}
	if err := h.grant(ctx, "stu-vikram", "Forensics", 60); err != nil {
		return err
	}
	return h.grant(ctx, "stu-meera", "CyberSecurity", 45)
}

// loadPendingApprovals leaves one claim at each gate.
func (h *Handler) loadPendingApprovals(ctx context.Context) error {
	if err := h.loadFreshCohort(ctx); err != nil {
		return err
	}

	// stu-asha's claim waits at the POC gate.
	if _, err := h.Claims.Submit(ctx, "stu-asha", "Criminology", "foundation", nil); err != nil {
		return err
	}

	// stu-vikram's claim has passed POC and waits at the admin gate.
	claim, err := h.Claims.Submit(ctx, "stu-vikram", "Forensics", "advanced", nil)
	if err != nil {
		return err
	}
	poc := claims.Actor{Role: claims.RolePOC, ID: "poc-delhi", DisplayName: "Delhi POC"}
	_, err = h.Approvals.PocApprove(ctx, claim.ID, poc)
	return err
}

// loadFullPipeline runs one claim through both gates, minting a
// certificate and debiting the ledger.
func (h *Handler) loadFullPipeline(ctx context.Context) error {
	if err := h.loadPendingApprovals(ctx); err != nil {
		return err
	}

	claim, err := h.Claims.Submit(ctx, "stu-meera", "CyberSecurity", "foundation", nil)
	if err != nil {
		return err
	}
	poc := claims.Actor{Role: claims.RolePOC, ID: "poc-mumbai", DisplayName: "Mumbai POC"}
	if _, err := h.Approvals.PocApprove(ctx, claim.ID, poc); err != nil {
		return err
	}
	admin := claims.Actor{Role: claims.RoleAdmin, ID: "admin-hq", DisplayName: "HQ Admin"}
	_, err = h.Approvals.AdminApprove(ctx, claim.ID, admin)
	return err
}

// loadCreditShortfall parks a POC-approved claim whose student spent the
// balance on another finalized claim, so admin approval will abort with
// an insufficient-credits error.
func (h *Handler) loadCreditShortfall(ctx context.Context) error {
	if err := h.seedStudent(ctx, "stu-ravi", "Ravi Kumar", "org-delhi"); err != nil {
		return err
	}
	// Enough for one foundation certification, not two.
	if err := h.grant(ctx, "stu-ravi", "Criminology", 40); err != nil {
		return err
	}

	poc := claims.Actor{Role: claims.RolePOC, ID: "poc-delhi", DisplayName: "Delhi POC"}
	admin := claims.Actor{Role: claims.RoleAdmin, ID: "admin-hq", DisplayName: "HQ Admin"}

	// Both claims pass the balance pre-check at submission.
	first, err := h.Claims.Submit(ctx, "stu-ravi", "Criminology", "foundation", nil)
	if err != nil {
		return err
	}
	second, err := h.Claims.Submit(ctx, "stu-ravi", "Criminology", "foundation", nil)
	if err != nil {
		return err
	}
	if _, err := h.Approvals.PocApprove(ctx, first.ID, poc); err != nil {
		return err
	}
	if _, err := h.Approvals.PocApprove(ctx, second.ID, poc); err != nil {
		return err
	}

	// Finalizing the first spends the balance; the second is stranded.
	_, err = h.Approvals.AdminApprove(ctx, first.ID, admin)
	return err
}

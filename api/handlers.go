/*
handlers.go - HTTP API handlers for the certification claim pipeline

PURPOSE:
  Exposes the certification engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Students:
    GET    /api/students                    List all students
    POST   /api/students                    Create student
    GET    /api/students/{id}               Get student details
    GET    /api/students/{id}/balance       Per-category credit balances
    GET    /api/students/{id}/claims        Student's claims
    GET    /api/students/{id}/certificates  Student's certificates
    POST   /api/students/{id}/credits       Grant earned credits

  Claims:
    POST   /api/claims                      Submit certification claim
    GET    /api/claims                      Role-scoped claim list
    GET    /api/claims/{id}                 Get claim
    POST   /api/claims/{id}/poc             POC gate decision
    POST   /api/claims/{id}/admin           Admin gate decision (finalizes)

  Catalog + certificates:
    GET    /api/categories                  Certification categories
    GET    /api/certificates                List certificates

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    POST   /api/scenarios/load              Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: TxStore (memory or sqlite)
  - Claims/Approvals/Credits services
  - Catalog: Category requirement lookups
  - validate: Shared validator instance for request DTOs

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags on the DTOs)
  3. Call domain logic (services)
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  The domain error taxonomy maps onto status codes:
  - 400: invalid category/level, insufficient credits, out-of-order gate
  - 404: unknown student or claim
  - 409: already-finalized conflicts; concurrency conflicts additionally
         carry retryable:true so clients know a retry may succeed
  - 500: everything else

SECURITY NOTE:
  Actor identity comes from the request body, placed there by the
  external auth layer. The engine enforces gate ordering regardless of
  the claimed role; it does not authenticate.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/bprnd/certification-engine/catalog"
	"github.com/bprnd/certification-engine/claims"
	"github.com/bprnd/certification-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     claims.TxStore
	Catalog   *catalog.Catalog
	Claims    *claims.ClaimService
	Approvals *claims.ApprovalService
	Credits   *claims.CreditService

	validate *validator.Validate

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the services around the given store and catalog.
func NewHandler(store claims.TxStore, cat *catalog.Catalog, certPrefix string) *Handler {
	issuer := claims.NewCertificateIssuer(certPrefix)
	return &Handler{
		Store:     store,
		Catalog:   cat,
		Claims:    claims.NewClaimService(store, cat),
		Approvals: claims.NewApprovalService(store, issuer),
		Credits:   claims.NewCreditService(store, cat),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns all students.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Store.ListStudents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list students", err)
		return
	}

	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStudent creates a new student with an empty credit ledger.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	existing, err := h.Store.GetStudent(r.Context(), ledger.StudentID(req.ID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check student", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Student already exists", nil)
		return
	}

	student := ledger.Student{
		ID:      ledger.StudentID(req.ID),
		Name:    req.Name,
		Email:   req.Email,
		OrgID:   req.OrgID,
		Credits: ledger.NewCreditLedger(),
	}
	if err := h.Store.SaveStudent(r.Context(), student); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create student", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(student))
}

// GetStudent returns a single student with balances.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	student, err := h.Store.GetStudent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*student))
}

// GetBalance returns the per-category credit balances for a student.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	student, err := h.Store.GetStudent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}

	balances := make(map[string]string, len(student.Credits.Balances))
	for k, v := range student.Credits.Balances {
		balances[k] = v.String()
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		StudentID:    string(student.ID),
		TotalCredits: student.Credits.Total.String(),
		Balances:     balances,
	})
}

// GrantCredits adds earned credits to a student's ledger.
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	var req GrantCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	student, err := h.Credits.Grant(r.Context(), id, req.CategoryKey, amount, req.Source)
	if err != nil {
		writeDomainError(w, "Failed to grant credits", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*student))
}

// ListStudentClaims returns a student's claims across all statuses.
func (h *Handler) ListStudentClaims(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	list, err := h.Store.ListClaims(r.Context(), claims.ClaimFilter{
		StudentID: ledger.StudentID(id),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list claims", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(list))
}

// ListStudentCertificates returns a student's minted certificates.
func (h *Handler) ListStudentCertificates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	list, err := h.Store.ListCertificates(r.Context(), claims.CertificateFilter{
		StudentID: ledger.StudentID(id),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list certificates", err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTOs(list))
}

// =============================================================================
// CLAIM HANDLERS
// =============================================================================

// SubmitClaim submits a new certification claim.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	var req SubmitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	courses := make([]claims.CourseRef, 0, len(req.Courses))
	for _, c := range req.Courses {
		earned, err := decimal.NewFromString(c.CreditsEarned)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid credits_earned", err)
			return
		}
		courses = append(courses, claims.CourseRef{Source: c.Source, CreditsEarned: earned})
	}

	claim, err := h.Claims.Submit(r.Context(),
		ledger.StudentID(req.StudentID), req.CategoryKey, req.QualificationLevel, courses)
	if err != nil {
		writeDomainError(w, "Failed to submit claim", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(*claim))
}

// ListClaims returns the role-scoped claim list.
// Query params: role (student|poc|admin), scope (student id or org id),
// status (repeatable).
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	role := claims.Role(q.Get("role"))
	if role == "" {
		role = claims.RoleAdmin
	}
	actor := claims.Actor{Role: role, ID: q.Get("actor_id")}

	var filter claims.ClaimFilter
	for _, s := range q["status"] {
		status := claims.Status(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown status "+s, nil)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	list, err := h.Claims.ListForActor(r.Context(), actor, q.Get("scope"), filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to list claims", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(list))
}

// GetClaim returns a single claim.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id := claims.ClaimID(chi.URLParam(r, "id"))

	claim, err := h.Claims.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get claim", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(*claim))
}

// PocDecision applies a POC-gate decision to a claim.
func (h *Handler) PocDecision(w http.ResponseWriter, r *http.Request) {
	h.decision(w, r, true)
}

// AdminDecision applies an admin-gate decision. Approval finalizes the
// claim: fresh balance check, credit debit and certificate mint in one
// transaction.
func (h *Handler) AdminDecision(w http.ResponseWriter, r *http.Request) {
	h.decision(w, r, false)
}

func (h *Handler) decision(w http.ResponseWriter, r *http.Request, pocGate bool) {
	id := claims.ClaimID(chi.URLParam(r, "id"))

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	actor := claims.Actor{
		Role:        claims.Role(req.Actor.Role),
		ID:          req.Actor.ID,
		DisplayName: req.Actor.DisplayName,
	}

	var claim *claims.Claim
	var err error
	switch {
	case pocGate && req.Decision == string(claims.DecisionApproved):
		claim, err = h.Approvals.PocApprove(r.Context(), id, actor)
	case pocGate:
		claim, err = h.Approvals.PocDecline(r.Context(), id, actor)
	case req.Decision == string(claims.DecisionApproved):
		claim, err = h.Approvals.AdminApprove(r.Context(), id, actor)
	default:
		claim, err = h.Approvals.AdminDecline(r.Context(), id, actor)
	}
	if err != nil {
		writeDomainError(w, "Decision failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(*claim))
}

// =============================================================================
// CATALOG + CERTIFICATE HANDLERS
// =============================================================================

// ListCategories returns the certification categories and their level
// requirements.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats := h.Catalog.Categories()
	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		levels := make(map[string]string, len(c.Levels))
		for lvl, req := range c.Levels {
			levels[lvl] = req.String()
		}
		dtos[i] = CategoryDTO{Key: c.Key, Name: c.Name, Levels: levels}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListCertificates returns minted certificates, optionally filtered by
// category via the ?category= query param.
func (h *Handler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	filter := claims.CertificateFilter{
		CategoryKey: r.URL.Query().Get("category"),
	}
	list, err := h.Store.ListCertificates(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list certificates", err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTOs(list))
}

// =============================================================================
// HELPERS
// =============================================================================

func toClaimDTOs(list []claims.Claim) []ClaimDTO {
	dtos := make([]ClaimDTO, len(list))
	for i, c := range list {
		dtos[i] = toClaimDTO(c)
	}
	return dtos
}

func toCertificateDTOs(list []claims.Certificate) []CertificateDTO {
	dtos := make([]CertificateDTO, len(list))
	for i, c := range list {
		dtos[i] = toCertificateDTO(c)
	}
	return dtos
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the domain error taxonomy to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case claims.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case claims.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     message,
			Details:   err.Error(),
			Retryable: true,
		})
	case claims.IsClientError(err):
		status := http.StatusBadRequest
		if errors.Is(err, claims.ErrAlreadyFinalized) {
			status = http.StatusConflict
		}
		writeError(w, status, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

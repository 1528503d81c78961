/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Student:
    StudentDTO, CreateStudentRequest, GrantCreditsRequest, BalanceDTO

  Claim:
    ClaimDTO, SubmitClaimRequest, DecisionRequest, ApprovalDTO

  Certificate:
    CertificateDTO

  Catalog:
    CategoryDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator struct tags; handlers run them through a
  shared *validator.Validate before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - claims/types.go: The domain model these project
*/
package api

import (
	"time"

	"github.com/bprnd/certification-engine/claims"
	"github.com/bprnd/certification-engine/ledger"
)

// =============================================================================
// STUDENT TYPES
// =============================================================================

// StudentDTO represents a student in API responses.
type StudentDTO struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email,omitempty"`
	OrgID        string            `json:"org_id,omitempty"`
	TotalCredits string            `json:"total_credits"`
	Balances     map[string]string `json:"balances"`
	CreatedAt    string            `json:"created_at,omitempty"`
}

// CreateStudentRequest is the request to create a student.
type CreateStudentRequest struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	OrgID string `json:"org_id"`
}

// GrantCreditsRequest adds earned credits to a student's ledger.
type GrantCreditsRequest struct {
	CategoryKey string `json:"category_key" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Source      string `json:"source"`
}

// BalanceDTO is the per-category balance view of a student's ledger.
type BalanceDTO struct {
	StudentID    string            `json:"student_id"`
	TotalCredits string            `json:"total_credits"`
	Balances     map[string]string `json:"balances"`
}

// =============================================================================
// CLAIM TYPES
// =============================================================================

// CourseRefDTO is a provenance reference carried on a claim.
type CourseRefDTO struct {
	Source        string `json:"source"`
	CreditsEarned string `json:"credits_earned"`
}

// ApprovalDTO records one gate decision on a claim.
type ApprovalDTO struct {
	Role        string `json:"role"`
	ActorID     string `json:"actor_id"`
	DisplayName string `json:"display_name,omitempty"`
	Decision    string `json:"decision"`
	At          string `json:"at"`
}

// ClaimDTO represents a claim in API responses.
type ClaimDTO struct {
	ID                 string         `json:"id"`
	StudentID          string         `json:"student_id"`
	OrgID              string         `json:"org_id,omitempty"`
	CategoryKey        string         `json:"category_key"`
	QualificationLevel string         `json:"qualification_level"`
	RequiredCredits    string         `json:"required_credits"`
	Courses            []CourseRefDTO `json:"courses,omitempty"`
	Status             string         `json:"status"`
	POCApproval        *ApprovalDTO   `json:"poc_approval,omitempty"`
	AdminApproval      *ApprovalDTO   `json:"admin_approval,omitempty"`
	FinalizedAt        string         `json:"finalized_at,omitempty"`
	CreatedAt          string         `json:"created_at,omitempty"`
	UpdatedAt          string         `json:"updated_at,omitempty"`
}

// SubmitClaimRequest is the request to submit a certification claim.
type SubmitClaimRequest struct {
	StudentID          string         `json:"student_id" validate:"required"`
	CategoryKey        string         `json:"category_key" validate:"required"`
	QualificationLevel string         `json:"qualification_level" validate:"required"`
	Courses            []CourseRefDTO `json:"courses"`
}

// ActorRequest identifies the decision maker. Identity arrives from the
// external auth layer; the engine trusts it but still enforces gate order.
type ActorRequest struct {
	Role        string `json:"role" validate:"required,oneof=student poc admin"`
	ID          string `json:"id" validate:"required"`
	DisplayName string `json:"display_name"`
}

// DecisionRequest is the body of a gate decision POST.
type DecisionRequest struct {
	Decision string       `json:"decision" validate:"required,oneof=approved declined"`
	Actor    ActorRequest `json:"actor" validate:"required"`
}

// =============================================================================
// CERTIFICATE TYPES
// =============================================================================

// CertificateDTO represents a minted certificate.
type CertificateDTO struct {
	ID                 string `json:"id"`
	Number             string `json:"number"`
	StudentID          string `json:"student_id"`
	CategoryKey        string `json:"category_key"`
	QualificationLevel string `json:"qualification_level"`
	ClaimID            string `json:"claim_id"`
	Sequence           int64  `json:"sequence"`
	IssuedAt           string `json:"issued_at"`
}

// =============================================================================
// CATALOG TYPES
// =============================================================================

// CategoryDTO represents a certification category and its level requirements.
type CategoryDTO struct {
	Key    string            `json:"key"`
	Name   string            `json:"name"`
	Levels map[string]string `json:"levels"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toStudentDTO(s ledger.Student) StudentDTO {
	balances := make(map[string]string, len(s.Credits.Balances))
	for k, v := range s.Credits.Balances {
		balances[k] = v.String()
	}
	dto := StudentDTO{
		ID:           string(s.ID),
		Name:         s.Name,
		Email:        s.Email,
		OrgID:        s.OrgID,
		TotalCredits: s.Credits.Total.String(),
		Balances:     balances,
	}
	if !s.CreatedAt.IsZero() {
		dto.CreatedAt = s.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toApprovalDTO(a *claims.Approval) *ApprovalDTO {
	if a == nil {
		return nil
	}
	return &ApprovalDTO{
		Role:        string(a.Actor.Role),
		ActorID:     a.Actor.ID,
		DisplayName: a.Actor.DisplayName,
		Decision:    string(a.Decision),
		At:          a.At.Format(time.RFC3339),
	}
}

func toClaimDTO(c claims.Claim) ClaimDTO {
	courses := make([]CourseRefDTO, len(c.Courses))
	for i, ref := range c.Courses {
		courses[i] = CourseRefDTO{
			Source:        ref.Source,
			CreditsEarned: ref.CreditsEarned.String(),
		}
	}
	dto := ClaimDTO{
		ID:                 string(c.ID),
		StudentID:          string(c.StudentID),
		OrgID:              c.OrgID,
		CategoryKey:        c.CategoryKey,
		QualificationLevel: c.QualificationLevel,
		RequiredCredits:    c.RequiredCredits.String(),
		Courses:            courses,
		Status:             string(c.Status),
		POCApproval:        toApprovalDTO(c.POCApproval),
		AdminApproval:      toApprovalDTO(c.AdminApproval),
		CreatedAt:          c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          c.UpdatedAt.Format(time.RFC3339),
	}
	if c.FinalizedAt != nil {
		dto.FinalizedAt = c.FinalizedAt.Format(time.RFC3339)
	}
	return dto
}

func toCertificateDTO(c claims.Certificate) CertificateDTO {
	return CertificateDTO{
		ID:                 string(c.ID),
		Number:             c.Number,
		StudentID:          string(c.StudentID),
		CategoryKey:        c.CategoryKey,
		QualificationLevel: c.QualificationLevel,
		ClaimID:            string(c.ClaimID),
		Sequence:           c.Sequence,
		IssuedAt:           c.IssuedAt.Format(time.RFC3339),
	}
}

/*
handlers_test.go - End-to-end API tests against the memory store

Tests for:
- Full claim round-trip: submit -> POC approve -> admin approve
- Error mapping (400/404/409 and the retryable flag semantics)
- Scenario loading
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bprnd/certification-engine/api"
	"github.com/bprnd/certification-engine/catalog"
	"github.com/bprnd/certification-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := api.NewHandler(memory.New(), catalog.Default(), "")
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	// Some endpoints return arrays; callers needing those decode themselves.
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createStudent(t *testing.T, srv *httptest.Server, id, org string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/students", map[string]any{
		"id":     id,
		"name":   "Student " + id,
		"org_id": org,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func grantCredits(t *testing.T, srv *httptest.Server, id, category, amount string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/students/"+id+"/credits", map[string]any{
		"category_key": category,
		"amount":       amount,
		"source":       "test grant",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func pocApprove(t *testing.T, srv *httptest.Server, claimID string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/claims/"+claimID+"/poc", map[string]any{
		"decision": "approved",
		"actor":    map[string]any{"role": "poc", "id": "poc-1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// FULL ROUND-TRIP
// =============================================================================

func TestAPI_FullClaimRoundTrip(t *testing.T) {
	// GIVEN: A student with 30 Criminology credits
	// WHEN: submit -> POC approve -> admin approve over HTTP
	// THEN: Certificate rru_Criminology_1 exists and the balance reads 5

	srv := newTestServer(t)
	createStudent(t, srv, "stu-1", "org-1")
	grantCredits(t, srv, "stu-1", "Criminology", "30")

	// Submit
	resp, claim := doJSON(t, http.MethodPost, srv.URL+"/api/claims", map[string]any{
		"student_id":          "stu-1",
		"category_key":        "Criminology",
		"qualification_level": "foundation",
		"courses": []map[string]any{
			{"source": "mou-course-101", "credits_earned": "30"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", claim["status"])
	assert.Equal(t, "25", claim["required_credits"])
	claimID := claim["id"].(string)

	// POC gate
	resp, claim = doJSON(t, http.MethodPost, srv.URL+"/api/claims/"+claimID+"/poc", map[string]any{
		"decision": "approved",
		"actor":    map[string]any{"role": "poc", "id": "poc-1", "display_name": "Org POC"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "poc_approved", claim["status"])

	// Admin gate finalizes
	resp, claim = doJSON(t, http.MethodPost, srv.URL+"/api/claims/"+claimID+"/admin", map[string]any{
		"decision": "approved",
		"actor":    map[string]any{"role": "admin", "id": "admin-1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", claim["status"])
	assert.NotEmpty(t, claim["finalized_at"])

	// Balance dropped by the requirement.
	resp, balance := doJSON(t, http.MethodGet, srv.URL+"/api/students/stu-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5", balance["total_credits"])

	// Certificate minted with the expected number.
	certResp, err := http.Get(srv.URL + "/api/students/stu-1/certificates")
	require.NoError(t, err)
	defer certResp.Body.Close()
	var certs []map[string]any
	require.NoError(t, json.NewDecoder(certResp.Body).Decode(&certs))
	require.Len(t, certs, 1)
	assert.Equal(t, "rru_Criminology_1", certs[0]["number"])
	assert.Equal(t, claimID, certs[0]["claim_id"])
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_SubmitValidation(t *testing.T) {
	srv := newTestServer(t)
	createStudent(t, srv, "stu-1", "org-1")
	grantCredits(t, srv, "stu-1", "Criminology", "30")

	// Missing required fields -> 400.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/claims", map[string]any{
		"student_id": "stu-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown category -> 400.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/claims", map[string]any{
		"student_id":          "stu-1",
		"category_key":        "Astrology",
		"qualification_level": "foundation",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Insufficient credits -> 400.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/claims", map[string]any{
		"student_id":          "stu-1",
		"category_key":        "Criminology",
		"qualification_level": "expert",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["details"], "insufficient credits")

	// Unknown student -> 404.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/claims", map[string]any{
		"student_id":          "ghost",
		"category_key":        "Criminology",
		"qualification_level": "foundation",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_OutOfOrderAdminApproval(t *testing.T) {
	srv := newTestServer(t)
	createStudent(t, srv, "stu-1", "org-1")
	grantCredits(t, srv, "stu-1", "Criminology", "30")

	resp, claim := doJSON(t, http.MethodPost, srv.URL+"/api/claims", map[string]any{
		"student_id":          "stu-1",
		"category_key":        "Criminology",
		"qualification_level": "foundation",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	claimID := claim["id"].(string)

	// Admin approval before the POC gate -> 400.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/claims/"+claimID+"/admin", map[string]any{
		"decision": "approved",
		"actor":    map[string]any{"role": "admin", "id": "admin-1"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["details"], "before poc approval")
}

func TestAPI_ConflictingDecisionOnTerminalClaim(t *testing.T) {
	srv := newTestServer(t)
	createStudent(t, srv, "stu-1", "org-1")
	grantCredits(t, srv, "stu-1", "Criminology", "30")

	resp, claim := doJSON(t, http.MethodPost, srv.URL+"/api/claims", map[string]any{
		"student_id":          "stu-1",
		"category_key":        "Criminology",
		"qualification_level": "foundation",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	claimID := claim["id"].(string)

	// Decline at the POC gate (terminal).
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/claims/"+claimID+"/poc", map[string]any{
		"decision": "declined",
		"actor":    map[string]any{"role": "poc", "id": "poc-1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Conflicting approval -> 409.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/claims/"+claimID+"/poc", map[string]any{
		"decision": "approved",
		"actor":    map[string]any{"role": "poc", "id": "poc-1"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Identical decision -> idempotent 200.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/claims/"+claimID+"/poc", map[string]any{
		"decision": "declined",
		"actor":    map[string]any{"role": "poc", "id": "poc-1"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_UnknownClaim(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/claims/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DuplicateStudent(t *testing.T) {
	srv := newTestServer(t)
	createStudent(t, srv, "stu-1", "org-1")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/students", map[string]any{
		"id":   "stu-1",
		"name": "Duplicate",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_InvalidDecisionValue(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/claims/any/poc", map[string]any{
		"decision": "maybe",
		"actor":    map[string]any{"role": "poc", "id": "poc-1"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// ROLE-SCOPED LISTS
// =============================================================================

func TestAPI_RoleScopedClaimLists(t *testing.T) {
	srv := newTestServer(t)
	createStudent(t, srv, "stu-1", "org-1")
	grantCredits(t, srv, "stu-1", "Criminology", "100")

	submit := func() string {
		resp, claim := doJSON(t, http.MethodPost, srv.URL+"/api/claims", map[string]any{
			"student_id":          "stu-1",
			"category_key":        "Criminology",
			"qualification_level": "foundation",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		return claim["id"].(string)
	}

	pendingID := submit()
	waitingID := submit()
	pocApprove(t, srv, waitingID)

	listIDs := func(query string) []string {
		resp, err := http.Get(srv.URL + "/api/claims?" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		ids := make([]string, len(list))
		for i, c := range list {
			ids[i] = c["id"].(string)
		}
		return ids
	}

	// POC portal sees claims awaiting the POC gate in their org.
	assert.Equal(t, []string{pendingID}, listIDs("role=poc&scope=org-1"))

	// Admin portal sees claims awaiting the admin gate.
	assert.Equal(t, []string{waitingID}, listIDs("role=admin"))

	// Student sees all of their own.
	assert.Len(t, listIDs("role=student&scope=stu-1"), 2)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestAPI_ListCategories(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/categories")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cats []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cats))
	require.NotEmpty(t, cats)

	keys := make(map[string]bool)
	for _, c := range cats {
		keys[c["key"].(string)] = true
	}
	assert.True(t, keys["Criminology"])
	assert.True(t, keys["Forensics"])
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_LoadScenario_FullPipeline(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load", map[string]any{
		"scenario_id": "full-pipeline",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("%v", body))
	assert.Equal(t, "full-pipeline", body["loaded"])

	// The scenario minted one certificate end to end.
	certResp, err := http.Get(srv.URL + "/api/certificates")
	require.NoError(t, err)
	defer certResp.Body.Close()
	var certs []map[string]any
	require.NoError(t, json.NewDecoder(certResp.Body).Decode(&certs))
	require.Len(t, certs, 1)
	assert.Equal(t, "rru_CyberSecurity_1", certs[0]["number"])
}

func TestAPI_LoadScenario_Unknown(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load", map[string]any{
		"scenario_id": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

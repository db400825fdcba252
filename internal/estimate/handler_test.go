package estimate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtmate/xtmate/internal/audit"
	"github.com/xtmate/xtmate/internal/auth"
	"github.com/xtmate/xtmate/internal/estimate"
	"github.com/xtmate/xtmate/internal/organization"
	"github.com/xtmate/xtmate/internal/rbac"
	"github.com/xtmate/xtmate/internal/testutil"
)

const (
	pmID  = "user_pm"
	orgID = "org_1"
	estID = "3b7e0c39-5d0e-4c5a-9d4f-0f5c2b8f1a11"
)

type staticIdentity struct{ userID, orgID string }

func (s staticIdentity) Identify(context.Context) (*rbac.Principal, error) {
	return &rbac.Principal{UserID: s.userID, OrganizationID: s.orgID}, nil
}

type staticMembers map[string]string // user -> role

func (m staticMembers) GetMembership(_ context.Context, org, user string) (*rbac.Membership, error) {
	role, ok := m[user]
	if !ok || org != orgID {
		return nil, rbac.ErrMembershipNotFound
	}
	return &rbac.Membership{UserID: user, OrganizationID: org, Role: role}, nil
}

type staticEstimates map[string]*rbac.EstimateRecord

func (s staticEstimates) GetEstimate(_ context.Context, id string) (*rbac.EstimateRecord, error) {
	if est, ok := s[id]; ok {
		return est, nil
	}
	return nil, rbac.ErrEstimateNotFound
}

type recordingAuditLogger struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *recordingAuditLogger) Log(_ context.Context, e audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingAuditLogger) Close() error { return nil }

func (l *recordingAuditLogger) actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.Action)
	}
	return out
}

func pmFixture(status string) (*rbac.Resolver, *estimate.Handler, *recordingAuditLogger, *http.ServeMux) {
	rv := rbac.NewResolver(
		staticIdentity{userID: pmID, orgID: orgID},
		staticMembers{pmID: "project-manager"},
		staticEstimates{estID: {ID: estID, OrganizationID: orgID, OwnerID: "user_owner", AssignedPMID: pmID, WorkflowStatus: status}},
	)
	auditLog := &recordingAuditLogger{}
	h := estimate.NewHandler(nil, estimate.NewStore(), auditLog)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, rv)
	return rv, h, auditLog, mux
}

// ownerFixture serves an estimate owned by an estimator, who therefore has
// full access but neither estimates.assign nor estimates.approve.
func ownerFixture(status string) (*recordingAuditLogger, *http.ServeMux) {
	rv := rbac.NewResolver(
		staticIdentity{userID: "user_est", orgID: orgID},
		staticMembers{"user_est": "estimator"},
		staticEstimates{estID: {ID: estID, OrganizationID: orgID, OwnerID: "user_est", WorkflowStatus: status}},
	)
	auditLog := &recordingAuditLogger{}
	h := estimate.NewHandler(nil, estimate.NewStore(), auditLog)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, rv)
	return auditLog, mux
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rbac.RequestScope(mux).ServeHTTP(w, r)
	return w
}

func TestHandleAccess_PMDuringCapture(t *testing.T) {
	_, _, _, mux := pmFixture(rbac.StatusPMInProgress)

	w := do(mux, http.MethodGet, "/api/v1/estimates/"+estID+"/access", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Level          string   `json:"level"`
		EditableFields []string `json:"editable_fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, rbac.AccessLimitedUpdate.String(), body.Level)
	assert.Equal(t, rbac.LimitedUpdateFields(), body.EditableFields)
}

func TestHandleAccess_ReadOnlyHasNoEditableFields(t *testing.T) {
	_, _, _, mux := pmFixture(rbac.StatusApproved)

	w := do(mux, http.MethodGet, "/api/v1/estimates/"+estID+"/access", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"estimate_id":"`+estID+`","level":"`+rbac.AccessReadOnly.String()+`","editable_fields":[]}`, w.Body.String())
}

func TestHandleUpdate_PMCannotTouchFullAccessFields(t *testing.T) {
	_, _, auditLog, mux := pmFixture(rbac.StatusPMInProgress)

	w := do(mux, http.MethodPatch, "/api/v1/estimates/"+estID, `{"pm_notes":"ok","claim_number":"CLM-9"}`)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "claim_number")
	assert.Equal(t, []string{audit.ActionAccessDenied}, auditLog.actions())
}

func TestHandleUpdate_ReadOnlyStoppedByMiddleware(t *testing.T) {
	_, _, auditLog, mux := pmFixture(rbac.StatusReadyForReview)

	w := do(mux, http.MethodPatch, "/api/v1/estimates/"+estID, `{"pm_notes":"late"}`)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, auditLog.actions(), "middleware denials go to its own audit option")
}

func TestHandleUpdate_BadBody(t *testing.T) {
	_, _, _, mux := pmFixture(rbac.StatusPMInProgress)

	for _, body := range []string{`nope`, `{}`, `{"owner_id":"user_pm"}`, `{"affected_areas":"kitchen"}`} {
		w := do(mux, http.MethodPatch, "/api/v1/estimates/"+estID, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestHandleGet_UnknownEstimateLooksForbidden(t *testing.T) {
	_, _, _, mux := pmFixture(rbac.StatusPMInProgress)

	missing := do(mux, http.MethodGet, "/api/v1/estimates/not-a-uuid", "")
	assert.Equal(t, http.StatusForbidden, missing.Code)
}

func TestHandleUpdate_FullAccessStillNeedsAssignAndApprove(t *testing.T) {
	tests := []struct {
		name   string
		status string
		body   string
		want   string
	}{
		{"approve", rbac.StatusReadyForReview, `{"workflow_status":"approved"}`, "estimates.approve"},
		{"unapprove", rbac.StatusApproved, `{"workflow_status":"estimating"}`, "estimates.approve"},
		{"assign estimator", rbac.StatusEstimating, `{"assigned_estimator_id":"someone-else"}`, "estimates.assign"},
		{"assign pm", rbac.StatusDraft, `{"assigned_pm_id":"user_pm","estimator_notes":"x"}`, "estimates.assign"},
		{"approve and assign", rbac.StatusReadyForReview, `{"workflow_status":"approved","assigned_estimator_id":"someone-else"}`, "estimates.assign"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditLog, mux := ownerFixture(tt.status)

			w := do(mux, http.MethodGet, "/api/v1/estimates/"+estID+"/access", "")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), rbac.AccessFull.String())

			w = do(mux, http.MethodPatch, "/api/v1/estimates/"+estID, tt.body)
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
			assert.Equal(t, []string{audit.ActionAccessDenied}, auditLog.actions())
		})
	}
}

func TestHandleAccess_HidesFieldsNeedingPermissions(t *testing.T) {
	_, mux := ownerFixture(rbac.StatusEstimating)

	w := do(mux, http.MethodGet, "/api/v1/estimates/"+estID+"/access", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		EditableFields []string `json:"editable_fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.EditableFields, "claim_number")
	assert.Contains(t, body.EditableFields, rbac.FieldWorkflowStatus)
	assert.NotContains(t, body.EditableFields, rbac.FieldAssignedPMID)
	assert.NotContains(t, body.EditableFields, rbac.FieldAssignedEstimatorID)
}

func TestHandleCreate_InitialValuesNeedPermissions(t *testing.T) {
	for _, body := range []string{
		`{"assigned_pm_id":"user_pm"}`,
		`{"claim_number":"CLM-2","assigned_estimator_id":"user_est"}`,
		`{"workflow_status":"approved"}`,
	} {
		auditLog, mux := ownerFixture(rbac.StatusDraft)

		w := do(mux, http.MethodPost, "/api/v1/estimates", body)
		assert.Equal(t, http.StatusForbidden, w.Code, body)
		assert.Equal(t, []string{audit.ActionAccessDenied}, auditLog.actions(), body)
	}
}

func TestEstimateRoutes_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := testutil.NewPool(t)
	testutil.SeedOrganization(t, pool, "org_1", "Acme Restoration")
	testutil.SeedOrganization(t, pool, "org_2", "Other Co")
	testutil.SeedMember(t, pool, "org_1", "user_est", "estimator")
	testutil.SeedMember(t, pool, "org_1", "user_pm", "project-manager")
	testutil.SeedMember(t, pool, "org_1", "user_mgr", "manager")
	testutil.SeedMember(t, pool, "org_1", "user_viewer", "viewer")
	testutil.SeedMember(t, pool, "org_2", "user_admin2", "admin")

	store := estimate.NewStore()
	auditLog := &recordingAuditLogger{}
	h := estimate.NewHandler(pool, store, auditLog)
	rv := rbac.NewResolver(auth.ContextProvider{},
		organization.NewMembershipSource(pool, organization.NewStore()),
		estimate.NewRecordSource(pool, store))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, rv)

	as := func(userID, org, method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		var r *http.Request
		if body == "" {
			r = httptest.NewRequest(method, path, nil)
		} else {
			r = httptest.NewRequest(method, path, strings.NewReader(body))
		}
		r = r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{
			UserID: userID, OrganizationID: org, TokenType: auth.TokenTypeAccess,
		}))
		rbac.RequestScope(mux).ServeHTTP(w, r)
		return w
	}

	w := as("user_est", "org_1", http.MethodPost, "/api/v1/estimates", `{"claim_number":"CLM-1","insured_name":"Jordan"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created estimate.Estimate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "user_est", created.OwnerID)
	assert.Equal(t, rbac.StatusDraft, created.WorkflowStatus)
	assert.Equal(t, "CLM-1", created.ClaimNumber)
	path := "/api/v1/estimates/" + created.ID

	t.Run("ViewerCannotCreate", func(t *testing.T) {
		w := as("user_viewer", "org_1", http.MethodPost, "/api/v1/estimates", `{}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("OwnerCannotAssign", func(t *testing.T) {
		w := as("user_est", "org_1", http.MethodPatch, path, `{"assigned_pm_id":"user_pm","workflow_status":"pm_in_progress"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "estimates.assign")

		e, err := store.Get(context.Background(), pool, created.ID)
		require.NoError(t, err)
		assert.Empty(t, e.AssignedPMID)
		assert.Equal(t, rbac.StatusDraft, e.WorkflowStatus)
	})

	t.Run("ManagerAssignsPM", func(t *testing.T) {
		w := as("user_mgr", "org_1", http.MethodPatch, path, `{"assigned_pm_id":"user_pm","workflow_status":"pm_in_progress"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("PMCapturesSiteData", func(t *testing.T) {
		w := as("user_pm", "org_1", http.MethodPatch, path,
			`{"pm_notes":"standing water","affected_areas":["basement"],"moisture_readings":[{"room":"basement","pct":40}]}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var got estimate.Estimate
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "standing water", got.PMNotes)
		assert.Equal(t, []string{"basement"}, got.AffectedAreas)
		assert.JSONEq(t, `[{"room":"basement","pct":40}]`, string(got.MoistureReadings))
		assert.Equal(t, "CLM-1", got.ClaimNumber)
	})

	t.Run("PMCannotChangeClaim", func(t *testing.T) {
		w := as("user_pm", "org_1", http.MethodPatch, path, `{"claim_number":"CLM-X"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)

		e, err := store.Get(context.Background(), pool, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "CLM-1", e.ClaimNumber)
	})

	t.Run("PMReadOnlyAfterCapture", func(t *testing.T) {
		w := as("user_est", "org_1", http.MethodPatch, path, `{"workflow_status":"estimating"}`)
		require.Equal(t, http.StatusOK, w.Code)

		w = as("user_pm", "org_1", http.MethodPatch, path, `{"pm_notes":"more"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = as("user_pm", "org_1", http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("OtherOrganizationAdmin", func(t *testing.T) {
		foreign := as("user_admin2", "org_2", http.MethodGet, path, "")
		missing := as("user_admin2", "org_2", http.MethodGet, "/api/v1/estimates/"+estID, "")

		assert.Equal(t, http.StatusForbidden, foreign.Code)
		assert.Equal(t, http.StatusForbidden, missing.Code)
		assert.Equal(t, missing.Body.String(), foreign.Body.String())
	})

	t.Run("ApprovalNeedsApprovePermission", func(t *testing.T) {
		w := as("user_est", "org_1", http.MethodPatch, path, `{"workflow_status":"approved"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = as("user_mgr", "org_1", http.MethodPatch, path, `{"workflow_status":"approved"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		// The owner keeps full access to other fields but cannot reopen it.
		w = as("user_est", "org_1", http.MethodPatch, path, `{"estimator_notes":"final"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		w = as("user_est", "org_1", http.MethodPatch, path, `{"workflow_status":"estimating"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)

		e, err := store.Get(context.Background(), pool, created.ID)
		require.NoError(t, err)
		assert.Equal(t, rbac.StatusApproved, e.WorkflowStatus)
		assert.Equal(t, "final", e.EstimatorNotes)
	})

	t.Run("AuditTrail", func(t *testing.T) {
		actions := auditLog.actions()
		assert.Contains(t, actions, audit.ActionEstimateCreated)
		assert.Contains(t, actions, audit.ActionEstimateUpdated)
		assert.Contains(t, actions, audit.ActionAccessDenied)
	})
}

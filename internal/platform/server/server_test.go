package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtmate/xtmate/internal/auth"
	"github.com/xtmate/xtmate/internal/organization"
	"github.com/xtmate/xtmate/internal/platform/middleware"
	"github.com/xtmate/xtmate/internal/platform/server"
	"github.com/xtmate/xtmate/internal/platform/telemetry"
	"github.com/xtmate/xtmate/internal/rbac"
)

func TestServer_HealthCheck(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadinessCheck_NoDB(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_NotFound(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Dependencies{ShutdownTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Give server time to start, then cancel
	cancel()

	err := <-errCh
	assert.NoError(t, err)
}

type fakeMembers map[string]string // user -> role

func (f fakeMembers) GetMembership(_ context.Context, orgID, userID string) (*rbac.Membership, error) {
	role, ok := f[userID]
	if !ok {
		return nil, rbac.ErrMembershipNotFound
	}
	return &rbac.Membership{UserID: userID, OrganizationID: orgID, Role: role}, nil
}

func newTestDeps() (server.Dependencies, *auth.TokenService) {
	tokenSvc := auth.NewTokenService("test-signing-key-must-be-32-chars!!", "xtmate", 24, 168)
	rv := rbac.NewResolver(auth.ContextProvider{}, fakeMembers{
		"user-admin":  "admin",
		"user-viewer": "viewer",
	}, nil)
	return server.Dependencies{
		Auth:                tokenSvc,
		AuthHandler:         auth.NewHandler(tokenSvc),
		Resolver:            rv,
		OrganizationHandler: organization.NewHandler(nil, organization.NewStore(), nil),
		Metrics:             telemetry.NewMetrics(prometheus.NewRegistry()),
	}, tokenSvc
}

func bearer(t *testing.T, tokenSvc *auth.TokenService, userID string) string {
	t.Helper()
	token, err := tokenSvc.CreateAccessToken(&auth.Identity{UserID: userID, OrganizationID: "org-1"})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestServer_Me_WithToken(t *testing.T) {
	deps, tokenSvc := newTestDeps()
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", bearer(t, tokenSvc, "user-viewer"))
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "viewer", body["role"])
	assert.Equal(t, "org-1", body["organization_id"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_Roles_WithoutPermission(t *testing.T) {
	deps, tokenSvc := newTestDeps()
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	req.Header.Set("Authorization", bearer(t, tokenSvc, "user-viewer"))
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(deps.Metrics.AuthzDecisionsTotal.WithLabelValues(rbac.OutcomeForbidden)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(deps.Metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "GET /api/v1/roles", "403")), 0)
}

func TestServer_Roles_WithPermission(t *testing.T) {
	deps, tokenSvc := newTestDeps()
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	req.Header.Set("Authorization", bearer(t, tokenSvc, "user-admin"))
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_NonMemberForbidden(t *testing.T) {
	deps, tokenSvc := newTestDeps()
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	req.Header.Set("Authorization", bearer(t, tokenSvc, "user-stranger"))
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_NoToken(t *testing.T) {
	deps, _ := newTestDeps()
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_DevMode(t *testing.T) {
	deps, _ := newTestDeps()
	deps.DevMode = true
	deps.DevIdentity = &auth.Identity{UserID: "user-admin", OrganizationID: "org-1", TokenType: auth.TokenTypeAccess}
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	req.Header.Set("Authorization", "Bearer dev")
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	deps, _ := newTestDeps()
	srv := server.New(":0", deps)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "xtmate_rate_limited_total")
}

func TestServer_RateLimited(t *testing.T) {
	deps, _ := newTestDeps()
	deps.RateLimiter = middleware.NewRateLimiter(0.001, 1, time.Minute)
	t.Cleanup(func() { _ = deps.RateLimiter.Close() })
	srv := server.New(":0", deps)

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(deps.Metrics.RateLimitedTotal), 0)
}

package features

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigflow/rigflow/internal/rbac"
	"github.com/rigflow/rigflow/internal/shared"
)

func TestLoadFlagsDefaults(t *testing.T) {
	flags, err := LoadFlags()
	require.NoError(t, err)

	for flag, enabled := range flags.States() {
		if flag == IoTIntegration {
			assert.False(t, enabled)
			continue
		}
		assert.True(t, enabled, "flag %s", flag)
	}
}

func TestLoadFlagsFromEnv(t *testing.T) {
	t.Setenv("FEATURE_WORK_ORDER_LIFECYCLE", "false")
	t.Setenv("FEATURE_IOT_INTEGRATION", "true")

	flags, err := LoadFlags()
	require.NoError(t, err)
	assert.False(t, flags.Enabled(WorkOrderLifecycle))
	assert.True(t, flags.Enabled(IoTIntegration))
	assert.False(t, flags.Enabled("teleportation"))
}

func TestLoadFlagsRejectsGarbage(t *testing.T) {
	t.Setenv("FEATURE_OFFLINE_MODE", "sometimes")

	_, err := LoadFlags()
	assert.Error(t, err)
}

func TestPermissionFlagsReferenceRegisteredPermissions(t *testing.T) {
	registered := make(map[rbac.Permission]struct{})
	for _, perm := range rbac.RegisteredPermissions() {
		registered[perm] = struct{}{}
	}
	states := Flags{}.States()
	for perm, flag := range permissionFlags {
		assert.Contains(t, registered, perm)
		assert.Contains(t, states, flag)
	}
}

func TestGateAllowed(t *testing.T) {
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})
	flags := Flags{WorkOrderLifecycle: false, SupervisorApprovalCore: true}
	gate := NewGate(flags, store)

	assert.False(t, gate.Allowed(rbac.RoleSupervisor, rbac.PermJobComplete))
	assert.True(t, gate.Allowed(rbac.RoleAdmin, rbac.PermSubmissionApprove))
	assert.False(t, gate.Allowed(rbac.RoleTechnician, rbac.PermSubmissionApprove))
	// Ungated permissions only depend on the role.
	assert.True(t, gate.Allowed(rbac.RoleVendor, rbac.PermViewDashboard))
	assert.False(t, gate.Allowed("", rbac.PermViewDashboard))
}

func TestGateRoutes(t *testing.T) {
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})
	gate := NewGate(Flags{AdvancedAnalytics: true}, store)
	r := chi.NewRouter()
	r.Route("/features", gate.MountRoutes)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/features/", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var listing struct {
		Features []flagView `json:"features"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&listing))
	require.Len(t, listing.Features, 12)
	assert.Equal(t, AdvancedAnalytics, listing.Features[0].Flag)
	assert.True(t, listing.Features[0].Enabled)

	sess := &shared.Session{}
	sess.SignIn("u-1", "", "executive")
	req := httptest.NewRequest(http.MethodGet, "/features/access?permission=report:build", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	res = httptest.NewRecorder()
	r.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	var view accessView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&view))
	assert.Equal(t, accessView{Permission: rbac.PermReportBuild, Flag: AdvancedAnalytics, Shipped: true, Allowed: true}, view)

	req = httptest.NewRequest(http.MethodGet, "/features/access?permission=page:view:map", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	res = httptest.NewRecorder()
	r.ServeHTTP(res, req)
	require.NoError(t, json.NewDecoder(res.Body).Decode(&view))
	assert.False(t, view.Shipped)
	assert.False(t, view.Allowed)

	res = httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/features/access", nil))
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

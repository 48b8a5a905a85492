package rbac_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rigflow/rigflow/internal/rbac"
	"github.com/rigflow/rigflow/internal/shared"
)

func signedIn(r *http.Request, role string) *http.Request {
	sess := &shared.Session{}
	sess.SignIn("u-1", "Test User", role)
	return r.WithContext(shared.ContextWithSession(r.Context(), sess))
}

func guarded(mw func(http.Handler) http.Handler) http.Handler {
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestRequireAnyAllowsInheritedPermission(t *testing.T) {
	m := rbac.Middleware{Store: rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})}
	handler := guarded(m.RequireAny(rbac.PermSubmissionApprove, rbac.PermJobAssign))

	cases := map[string]int{
		"supervisor": http.StatusNoContent,
		"dispatcher": http.StatusNoContent,
		"executive":  http.StatusNoContent,
		"technician": http.StatusForbidden,
		"vendor":     http.StatusForbidden,
	}
	for role, want := range cases {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, signedIn(httptest.NewRequest(http.MethodGet, "/", nil), role))
		assert.Equal(t, want, res.Code, "role %s", role)
	}
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	m := rbac.Middleware{Store: rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})}
	handler := guarded(m.RequireAll(rbac.PermJobAssign, rbac.PermSubmissionApprove))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, signedIn(httptest.NewRequest(http.MethodGet, "/", nil), "dispatcher"))
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, signedIn(httptest.NewRequest(http.MethodGet, "/", nil), "admin"))
	assert.Equal(t, http.StatusNoContent, res.Code)
}

func TestGuardRejectsAnonymousAndUnknownRoles(t *testing.T) {
	m := rbac.Middleware{Store: rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})}
	handler := guarded(m.RequireAny(rbac.PermViewDashboard))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, signedIn(httptest.NewRequest(http.MethodGet, "/", nil), "janitor"))
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))
}

func TestGuardDeniesUnknownPermission(t *testing.T) {
	m := rbac.Middleware{Store: rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})}
	handler := guarded(m.RequireAny(" Nonexistent:Key "))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, signedIn(httptest.NewRequest(http.MethodGet, "/", nil), "executive"))
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestGuardWithoutStoreFailsClosed(t *testing.T) {
	handler := guarded(rbac.Middleware{}.RequireAny(rbac.PermViewDashboard))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, signedIn(httptest.NewRequest(http.MethodGet, "/", nil), "admin"))
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestGuardWithoutPermissionsPassesThrough(t *testing.T) {
	handler := guarded(rbac.Middleware{}.RequireAll())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, res.Code)
}

func TestGuardFollowsStoreReload(t *testing.T) {
	store := rbac.NewStore(rbac.DefaultPolicy(), rbac.StoreConfig{})
	handler := guarded(rbac.Middleware{Store: store}.RequireAny(rbac.PermJobComplete))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, signedIn(httptest.NewRequest(http.MethodPost, "/", nil), "dispatcher"))
	assert.Equal(t, http.StatusForbidden, res.Code)

	policy := rbac.DefaultPolicy()
	policy.Grants[rbac.PermJobComplete] = append(policy.Grants[rbac.PermJobComplete], rbac.RoleDispatcher)
	_, err := store.Install(policy)
	assert.NoError(t, err)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, signedIn(httptest.NewRequest(http.MethodPost, "/", nil), "dispatcher"))
	assert.Equal(t, http.StatusNoContent, res.Code)
}

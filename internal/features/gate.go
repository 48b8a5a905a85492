package features

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rigflow/rigflow/internal/platform/httpx"
	"github.com/rigflow/rigflow/internal/rbac"
	"github.com/rigflow/rigflow/internal/shared"
)

// Authorizer answers role/permission queries.
type Authorizer interface {
	IsAuthorized(role rbac.Role, perm rbac.Permission) bool
}

// Gate combines rollout flags with authorization: a permission is usable
// only when its feature has shipped and the role holds it.
type Gate struct {
	flags Flags
	authz Authorizer
}

// NewGate constructs a Gate.
func NewGate(flags Flags, authz Authorizer) *Gate {
	return &Gate{flags: flags, authz: authz}
}

// Allowed reports whether role may use perm right now.
func (g *Gate) Allowed(role rbac.Role, perm rbac.Permission) bool {
	if flag, ok := FlagFor(perm); ok && !g.flags.Enabled(flag) {
		return false
	}
	return g.authz.IsAuthorized(role, perm)
}

type flagView struct {
	Flag    Flag `json:"flag"`
	Enabled bool `json:"enabled"`
}

// MountRoutes registers the flag listing and the access probe.
func (g *Gate) MountRoutes(r chi.Router) {
	r.Get("/", g.list)
	r.Get("/access", g.access)
}

func (g *Gate) list(w http.ResponseWriter, r *http.Request) {
	states := g.flags.States()
	views := make([]flagView, 0, len(states))
	for flag, enabled := range states {
		views = append(views, flagView{Flag: flag, Enabled: enabled})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Flag < views[j].Flag })
	httpx.JSON(w, http.StatusOK, map[string]any{"features": views})
}

type accessView struct {
	Permission rbac.Permission `json:"permission"`
	Flag       Flag            `json:"flag,omitempty"`
	Shipped    bool            `json:"shipped"`
	Allowed    bool            `json:"allowed"`
}

// access answers whether the signed-in role can use a permission now. UI
// affordances call this before rendering.
func (g *Gate) access(w http.ResponseWriter, r *http.Request) {
	perm := rbac.Permission(strings.TrimSpace(r.URL.Query().Get("permission")))
	if perm == "" {
		httpx.RespondError(w, fmt.Errorf("%w: permission is required", httpx.ErrValidation))
		return
	}
	role, err := rbac.ParseRole(shared.RoleFromContext(r.Context()))
	if err != nil {
		role = ""
	}
	view := accessView{Permission: perm, Shipped: true}
	if flag, ok := FlagFor(perm); ok {
		view.Flag = flag
		view.Shipped = g.flags.Enabled(flag)
	}
	view.Allowed = g.Allowed(role, perm)
	httpx.JSON(w, http.StatusOK, view)
}

package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rigflow/rigflow/internal/platform/httpx"
)

// Handler exposes the authorization query API.
type Handler struct {
	logger *slog.Logger
	store  *Store
	rbac   Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, store *Store, rbac Middleware) *Handler {
	return &Handler{logger: logger, store: store, rbac: rbac}
}

// MountRoutes registers authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/check", h.check)
	r.Get("/roles", h.listRoles)
	r.Get("/roles/{role}/permissions", h.rolePermissions)
	r.Get("/permissions", h.listPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(PermUserManage))
		r.Post("/reload", h.reload)
	})
}

type checkResponse struct {
	Role       Role       `json:"role"`
	Permission Permission `json:"permission"`
	Allowed    bool       `json:"allowed"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	role, err := ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	perm := Permission(strings.TrimSpace(r.URL.Query().Get("permission")))
	if perm == "" {
		httpx.RespondError(w, fmt.Errorf("%w: permission is required", httpx.ErrValidation))
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{
		Role:       role,
		Permission: perm,
		Allowed:    h.store.IsAuthorized(role, perm),
	})
}

type roleView struct {
	Role      Role   `json:"role"`
	Label     string `json:"label"`
	Inherits  []Role `json:"inherits"`
	Effective int    `json:"effective_permissions"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	resolver, version := h.store.Snapshot()
	roles := resolver.Roles()
	title := cases.Title(language.English)
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		inherits := resolver.InheritedRoles(role)
		if inherits == nil {
			inherits = []Role{}
		}
		views = append(views, roleView{
			Role:      role,
			Label:     title.String(strings.ReplaceAll(string(role), "_", " ")),
			Inherits:  inherits,
			Effective: len(resolver.EffectivePermissions(role)),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": views, "version": version})
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	role, err := ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrNotFound, err))
		return
	}
	perms := h.store.Current().EffectivePermissions(role)
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role, "permissions": perms})
}

type permissionView struct {
	Permission Permission `json:"permission"`
	Roles      []Role     `json:"roles"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	resolver := h.store.Current()
	perms := resolver.Permissions()
	views := make([]permissionView, 0, len(perms))
	for _, perm := range perms {
		roles, _ := resolver.GrantedRoles(perm)
		views = append(views, permissionView{Permission: perm, Roles: roles})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": views})
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	version, err := h.store.Reload(r.Context())
	if err != nil {
		if h.logger != nil {
			h.logger.Error("rbac reload via api", slog.Any("error", err))
		}
		if errors.Is(err, ErrNoSource) {
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
			return
		}
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"version": version})
}

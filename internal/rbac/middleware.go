package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rigflow/rigflow/internal/platform/httpx"
	"github.com/rigflow/rigflow/internal/shared"
)

// Middleware wires RBAC authorization guards for HTTP handlers.
type Middleware struct {
	Store  *Store
	Logger *slog.Logger
}

// RequireAny lets the request through when the signed-in role holds at least
// one of perms.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return m.guard(required, func(resolver *Resolver, role Role) bool {
		for _, p := range required {
			if resolver.IsAuthorized(role, p) {
				return true
			}
		}
		return false
	})
}

// RequireAll lets the request through only when the signed-in role holds
// every one of perms.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return m.guard(required, func(resolver *Resolver, role Role) bool {
		for _, p := range required {
			if !resolver.IsAuthorized(role, p) {
				return false
			}
		}
		return true
	})
}

func (m Middleware) guard(required []Permission, allowed func(*Resolver, Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			role, ok := m.currentRole(r)
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if m.Store == nil || !allowed(m.Store.Current(), role) {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) currentRole(r *http.Request) (Role, bool) {
	raw := shared.RoleFromContext(r.Context())
	if raw == "" {
		return "", false
	}
	role, err := ParseRole(raw)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse session role", slog.String("value", raw))
		}
		return "", false
	}
	return role, true
}

func normalizePermissions(perms []Permission) []Permission {
	seen := make(map[Permission]struct{}, len(perms))
	normalized := make([]Permission, 0, len(perms))
	for _, p := range perms {
		p = Permission(strings.TrimSpace(strings.ToLower(string(p))))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

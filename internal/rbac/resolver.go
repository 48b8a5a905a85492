package rbac

import (
	"log/slog"
	"slices"
	"sort"
)

// Observer receives resolver diagnostics. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveDecision(perm Permission, allowed bool)
	ObserveConfigError(err *ConfigError)
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger used to report configuration defects.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithObserver attaches an Observer for decisions and configuration defects.
func WithObserver(observer Observer) ResolverOption {
	return func(r *Resolver) { r.observer = observer }
}

// Resolver answers authorization queries against an immutable policy. It is
// safe for concurrent use without locking.
type Resolver struct {
	hierarchy map[Role][]Role
	grants    map[Permission]map[Role]struct{}
	logger    *slog.Logger
	observer  Observer
}

// NewResolver builds a Resolver over a private copy of policy. The policy is
// not validated here: a cyclic hierarchy still resolves, it just never grants
// through the cycle.
func NewResolver(policy Policy, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		hierarchy: make(map[Role][]Role, len(policy.Hierarchy)),
		grants:    make(map[Permission]map[Role]struct{}, len(policy.Grants)),
	}
	for role, children := range policy.Hierarchy {
		r.hierarchy[role] = slices.Clone(children)
	}
	for perm, roles := range policy.Grants {
		set := make(map[Role]struct{}, len(roles))
		for _, role := range roles {
			set[role] = struct{}{}
		}
		r.grants[perm] = set
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsAuthorized reports whether role holds perm, directly or through any role
// reachable in the hierarchy. The empty role and unknown permissions deny.
func (r *Resolver) IsAuthorized(role Role, perm Permission) bool {
	if r == nil || role == "" {
		return false
	}
	granted, ok := r.grants[perm]
	if !ok {
		r.reportUnknown(perm)
		return false
	}
	allowed := r.reaches(role, granted)
	if r.observer != nil {
		r.observer.ObserveDecision(perm, allowed)
	}
	return allowed
}

// Can reports whether the principal may perform perm. A nil principal is
// treated as unauthenticated.
func (r *Resolver) Can(principal Principal, perm Permission) bool {
	if principal == nil {
		return false
	}
	return r.IsAuthorized(principal.GetRole(), perm)
}

func (r *Resolver) reaches(role Role, granted map[Role]struct{}) bool {
	if _, ok := granted[role]; ok {
		return true
	}
	visited := map[Role]struct{}{role: {}}
	pending := slices.Clone(r.hierarchy[role])
	for len(pending) > 0 {
		candidate := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, seen := visited[candidate]; seen {
			continue
		}
		visited[candidate] = struct{}{}
		if _, ok := granted[candidate]; ok {
			return true
		}
		pending = append(pending, r.hierarchy[candidate]...)
	}
	return false
}

func (r *Resolver) reportUnknown(perm Permission) {
	cfgErr := &ConfigError{Permission: perm}
	if r.logger != nil {
		r.logger.Warn("rbac permission not configured", slog.String("permission", string(perm)), slog.Any("error", cfgErr))
	}
	if r.observer != nil {
		r.observer.ObserveConfigError(cfgErr)
	}
}

// InheritedRoles returns every role reachable from role through the
// hierarchy, excluding role itself, sorted by name.
func (r *Resolver) InheritedRoles(role Role) []Role {
	if r == nil || role == "" {
		return nil
	}
	visited := map[Role]struct{}{role: {}}
	pending := slices.Clone(r.hierarchy[role])
	var out []Role
	for len(pending) > 0 {
		candidate := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, seen := visited[candidate]; seen {
			continue
		}
		visited[candidate] = struct{}{}
		out = append(out, candidate)
		pending = append(pending, r.hierarchy[candidate]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EffectivePermissions lists every permission role is authorized for, sorted.
func (r *Resolver) EffectivePermissions(role Role) []Permission {
	if r == nil || role == "" {
		return nil
	}
	var out []Permission
	for _, perm := range sortedPermissions(r.grants) {
		if r.reaches(role, r.grants[perm]) {
			out = append(out, perm)
		}
	}
	return out
}

// GrantedRoles returns the roles perm is granted to directly, sorted, and
// whether perm is configured at all.
func (r *Resolver) GrantedRoles(perm Permission) ([]Role, bool) {
	if r == nil {
		return nil, false
	}
	set, ok := r.grants[perm]
	if !ok {
		return nil, false
	}
	return sortedRoles(set), true
}

// Permissions returns the configured permission keys, sorted.
func (r *Resolver) Permissions() []Permission {
	if r == nil {
		return nil
	}
	return sortedPermissions(r.grants)
}

// Roles returns every role named in the hierarchy or the permission table.
func (r *Resolver) Roles() []Role {
	if r == nil {
		return nil
	}
	seen := make(map[Role]struct{})
	for role, children := range r.hierarchy {
		seen[role] = struct{}{}
		for _, child := range children {
			seen[child] = struct{}{}
		}
	}
	for _, set := range r.grants {
		for role := range set {
			seen[role] = struct{}{}
		}
	}
	return sortedRoles(seen)
}

// Policy returns a copy of the policy the resolver was built from.
func (r *Resolver) Policy() Policy {
	p := Policy{
		Hierarchy: make(map[Role][]Role),
		Grants:    make(map[Permission][]Role),
	}
	if r == nil {
		return p
	}
	for role, children := range r.hierarchy {
		p.Hierarchy[role] = slices.Clone(children)
	}
	for perm, set := range r.grants {
		p.Grants[perm] = sortedRoles(set)
	}
	return p
}

package rbac

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Policy is the static authorization configuration: the role hierarchy and
// the permission table. A Policy is treated as immutable once handed to a
// Resolver.
type Policy struct {
	// Hierarchy maps a role to the roles it inherits permissions from.
	Hierarchy map[Role][]Role
	// Grants maps a permission to the roles it is granted to directly.
	Grants map[Permission][]Role
}

// DefaultPolicy returns the production role hierarchy and permission table.
// Permissions are granted to the lowest role that needs them and flow upward
// through the hierarchy.
func DefaultPolicy() Policy {
	all := []Role{RoleTechnician, RoleSupervisor, RoleDispatcher, RoleAdmin, RoleExecutive, RoleVendor}
	return Policy{
		Hierarchy: map[Role][]Role{
			RoleExecutive:  {RoleAdmin},
			RoleAdmin:      {RoleSupervisor, RoleDispatcher},
			RoleSupervisor: {RoleTechnician},
			RoleDispatcher: {},
			RoleTechnician: {},
			RoleVendor:     {},
		},
		Grants: map[Permission][]Role{
			PermViewDashboard:    all,
			PermViewSubmissions:  {RoleTechnician, RoleVendor},
			PermViewForms:        {RoleTechnician, RoleVendor},
			PermViewApprovals:    {RoleSupervisor},
			PermViewProjects:     {RoleSupervisor},
			PermViewSchedule:     {RoleSupervisor, RoleDispatcher},
			PermViewDispatch:     {RoleDispatcher},
			PermViewCrewRotation: {RoleSupervisor},
			PermViewReports:      {RoleSupervisor, RoleAdmin, RoleExecutive},
			PermViewFieldTickets: {RoleSupervisor},
			PermViewMap:          {RoleAdmin},
			PermViewInvoicing:    {RoleAdmin},
			PermViewUsers:        {RoleAdmin},
			PermViewAssets:       {RoleAdmin},
			PermViewInventory:    {RoleAdmin},
			PermViewPMPlans:      {RoleAdmin},
			PermViewVendors:      {RoleAdmin},
			PermViewJobDetail:    all,
			PermViewAssetDetail:  {RoleTechnician, RoleSupervisor, RoleAdmin, RoleExecutive},
			PermViewFindPart:     {RoleTechnician, RoleSupervisor},

			PermJobCreate:              {RoleSupervisor, RoleAdmin, RoleExecutive},
			PermJobAssign:              {RoleSupervisor, RoleDispatcher},
			PermJobComplete:            {RoleSupervisor},
			PermMapManage:              {RoleAdmin},
			PermSubmissionApprove:      {RoleSupervisor},
			PermSubmissionEditApproved: {RoleSupervisor},
			PermInvoiceCreate:          {RoleAdmin},
			PermUserManage:             {RoleAdmin},
			PermAssetManage:            {RoleAdmin},
			PermInventoryManage:        {RoleAdmin},
			PermInventoryTransfer:      {RoleAdmin, RoleSupervisor},
			PermPartFind:               {RoleTechnician, RoleSupervisor},
			PermReportBuild:            {RoleSupervisor, RoleAdmin, RoleExecutive},
			PermPMPlanRun:              {RoleAdmin},
		},
	}
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	out := Policy{
		Hierarchy: make(map[Role][]Role, len(p.Hierarchy)),
		Grants:    make(map[Permission][]Role, len(p.Grants)),
	}
	for role, children := range p.Hierarchy {
		out.Hierarchy[role] = slices.Clone(children)
	}
	for perm, roles := range p.Grants {
		out.Grants[perm] = slices.Clone(roles)
	}
	return out
}

// Validate checks that every referenced role is known, every permission key
// is non-empty and the hierarchy is acyclic. All defects are returned joined.
func (p Policy) Validate() error {
	var errs []error
	for _, role := range sortedRoles(p.Hierarchy) {
		if !role.Valid() {
			errs = append(errs, fmt.Errorf("%w: hierarchy entry %q", ErrUnknownRole, string(role)))
		}
		for _, child := range p.Hierarchy[role] {
			if !child.Valid() {
				errs = append(errs, fmt.Errorf("%w: %q inherits from %q", ErrUnknownRole, string(role), string(child)))
			}
		}
	}
	for _, perm := range sortedPermissions(p.Grants) {
		if strings.TrimSpace(string(perm)) == "" {
			errs = append(errs, ErrEmptyPermission)
			continue
		}
		for _, role := range p.Grants[perm] {
			if !role.Valid() {
				errs = append(errs, fmt.Errorf("%w: %q granted to %q", ErrUnknownRole, string(perm), string(role)))
			}
		}
	}
	if cycle := p.findCycle(); len(cycle) > 0 {
		path := make([]string, len(cycle))
		for i, role := range cycle {
			path[i] = string(role)
		}
		errs = append(errs, fmt.Errorf("%w: %s", ErrCyclicHierarchy, strings.Join(path, " -> ")))
	}
	return errors.Join(errs...)
}

// MissingPermissions lists registered permissions absent from the table.
// Queries for these keys resolve to deny.
func (p Policy) MissingPermissions() []Permission {
	var missing []Permission
	for _, perm := range RegisteredPermissions() {
		if _, ok := p.Grants[perm]; !ok {
			missing = append(missing, perm)
		}
	}
	return missing
}

// findCycle returns the first cycle found as a closed path, e.g. [a b a].
func (p Policy) findCycle() []Role {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[Role]int, len(p.Hierarchy))
	var stack []Role
	var cycle []Role

	var visit func(Role) bool
	visit = func(role Role) bool {
		state[role] = onStack
		stack = append(stack, role)
		for _, child := range p.Hierarchy[role] {
			switch state[child] {
			case onStack:
				start := slices.Index(stack, child)
				cycle = append(slices.Clone(stack[start:]), child)
				return true
			case unvisited:
				if visit(child) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[role] = done
		return false
	}

	for _, role := range sortedRoles(p.Hierarchy) {
		if state[role] == unvisited && visit(role) {
			return cycle
		}
	}
	return nil
}

// PolicyDocument is the serialised policy used by file, Redis and HTTP
// payloads.
type PolicyDocument struct {
	Hierarchy   map[string][]string `yaml:"hierarchy" json:"hierarchy" validate:"omitempty,dive,keys,required,endkeys,dive,required"`
	Permissions map[string][]string `yaml:"permissions" json:"permissions" validate:"required,min=1,dive,keys,required,endkeys,dive,required"`
}

var documentValidator = validator.New()

// Document converts the policy into its serialised form.
func (p Policy) Document() PolicyDocument {
	doc := PolicyDocument{
		Hierarchy:   make(map[string][]string, len(p.Hierarchy)),
		Permissions: make(map[string][]string, len(p.Grants)),
	}
	for role, children := range p.Hierarchy {
		doc.Hierarchy[string(role)] = rolesToStrings(children)
	}
	for perm, roles := range p.Grants {
		doc.Permissions[string(perm)] = rolesToStrings(roles)
	}
	return doc
}

// Policy validates the document structure and converts it into a Policy.
// Role and cycle checks are left to Policy.Validate.
func (d PolicyDocument) Policy() (Policy, error) {
	if err := documentValidator.Struct(d); err != nil {
		return Policy{}, fmt.Errorf("rbac: invalid policy document: %w", err)
	}
	p := Policy{
		Hierarchy: make(map[Role][]Role, len(d.Hierarchy)),
		Grants:    make(map[Permission][]Role, len(d.Permissions)),
	}
	for role, children := range d.Hierarchy {
		p.Hierarchy[normaliseRole(role)] = stringsToRoles(children)
	}
	for perm, roles := range d.Permissions {
		p.Grants[Permission(strings.TrimSpace(perm))] = stringsToRoles(roles)
	}
	return p, nil
}

func normaliseRole(raw string) Role {
	return Role(strings.ToLower(strings.TrimSpace(raw)))
}

func rolesToStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func stringsToRoles(raw []string) []Role {
	out := make([]Role, len(raw))
	for i, r := range raw {
		out[i] = normaliseRole(r)
	}
	return out
}

func sortedRoles[V any](m map[Role]V) []Role {
	keys := make([]Role, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedPermissions[V any](m map[Permission]V) []Permission {
	keys := make([]Permission, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

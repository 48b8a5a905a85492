package rbac

import (
	"fmt"
	"strings"
)

// Role identifies a user's position in the field organisation.
type Role string

// Roles known to the dashboard. The empty Role is an unauthenticated caller.
const (
	RoleTechnician Role = "technician"
	RoleSupervisor Role = "supervisor"
	RoleDispatcher Role = "dispatcher"
	RoleAdmin      Role = "admin"
	RoleExecutive  Role = "executive"
	RoleVendor     Role = "vendor"
)

// AllRoles returns every known role in display order.
func AllRoles() []Role {
	return []Role{
		RoleTechnician,
		RoleSupervisor,
		RoleDispatcher,
		RoleAdmin,
		RoleExecutive,
		RoleVendor,
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTechnician, RoleSupervisor, RoleDispatcher, RoleAdmin, RoleExecutive, RoleVendor:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// ParseRole normalises raw input into a Role. Blank input yields the
// unauthenticated role without an error.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if role == "" {
		return "", nil
	}
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// Permission is a capability key such as "submission:approve".
type Permission string

func (p Permission) String() string {
	return string(p)
}

// Page access permissions.
const (
	PermViewDashboard    Permission = "page:view:dashboard"
	PermViewSubmissions  Permission = "page:view:submissions"
	PermViewForms        Permission = "page:view:forms"
	PermViewApprovals    Permission = "page:view:approvals"
	PermViewProjects     Permission = "page:view:projects"
	PermViewSchedule     Permission = "page:view:schedule"
	PermViewDispatch     Permission = "page:view:dispatch"
	PermViewCrewRotation Permission = "page:view:crew_rotation"
	PermViewReports      Permission = "page:view:reports"
	PermViewFieldTickets Permission = "page:view:field_tickets"
	PermViewMap          Permission = "page:view:map"
	PermViewInvoicing    Permission = "page:view:invoicing"
	PermViewUsers        Permission = "page:view:users"
	PermViewAssets       Permission = "page:view:assets"
	PermViewInventory    Permission = "page:view:inventory"
	PermViewPMPlans      Permission = "page:view:pm_plans"
	PermViewVendors      Permission = "page:view:vendors"
	PermViewJobDetail    Permission = "page:view:job_detail"
	PermViewAssetDetail  Permission = "page:view:asset_detail"
	PermViewFindPart     Permission = "page:view:find_part"
)

// Action permissions.
const (
	PermJobCreate              Permission = "job:create"
	PermJobAssign              Permission = "job:assign"
	PermJobComplete            Permission = "job:complete"
	PermMapManage              Permission = "map:manage"
	PermSubmissionApprove      Permission = "submission:approve"
	PermSubmissionEditApproved Permission = "submission:edit_approved"
	PermInvoiceCreate          Permission = "invoice:create"
	PermUserManage             Permission = "user:manage"
	PermAssetManage            Permission = "asset:manage"
	PermInventoryManage        Permission = "inventory:manage"
	PermInventoryTransfer      Permission = "inventory:transfer"
	PermPartFind               Permission = "part:find"
	PermReportBuild            Permission = "report:build"
	PermPMPlanRun              Permission = "pm_plan:run"
)

// PageScopes lists the page access permissions.
func PageScopes() []Permission {
	return []Permission{
		PermViewDashboard,
		PermViewSubmissions,
		PermViewForms,
		PermViewApprovals,
		PermViewProjects,
		PermViewSchedule,
		PermViewDispatch,
		PermViewCrewRotation,
		PermViewReports,
		PermViewFieldTickets,
		PermViewMap,
		PermViewInvoicing,
		PermViewUsers,
		PermViewAssets,
		PermViewInventory,
		PermViewPMPlans,
		PermViewVendors,
		PermViewJobDetail,
		PermViewAssetDetail,
		PermViewFindPart,
	}
}

// ActionScopes lists the state-mutating action permissions.
func ActionScopes() []Permission {
	return []Permission{
		PermJobCreate,
		PermJobAssign,
		PermJobComplete,
		PermMapManage,
		PermSubmissionApprove,
		PermSubmissionEditApproved,
		PermInvoiceCreate,
		PermUserManage,
		PermAssetManage,
		PermInventoryManage,
		PermInventoryTransfer,
		PermPartFind,
		PermReportBuild,
		PermPMPlanRun,
	}
}

// RegisteredPermissions returns every permission the application checks.
// Policies are compared against this list at startup.
func RegisteredPermissions() []Permission {
	return append(PageScopes(), ActionScopes()...)
}

// Principal describes the authenticated actor.
type Principal interface {
	GetID() string
	GetRole() Role
}

// User is the minimal Principal carried in a session.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// GetID implements Principal.
func (u User) GetID() string { return u.ID }

// GetRole implements Principal.
func (u User) GetRole() Role { return u.Role }

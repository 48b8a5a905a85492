// Package features holds the phased rollout flags and gates permissions on them.
package features

import (
	"github.com/kelseyhightower/envconfig"

	"github.com/rigflow/rigflow/internal/rbac"
)

// Flag names a rollout flag.
type Flag string

// Rollout flags grouped by phase.
const (
	// Phase 1: core loop.
	GeospatialCommandCenter Flag = "geospatial_command_center"
	WorkOrderLifecycle      Flag = "work_order_lifecycle"
	TechnicianMobileCore    Flag = "technician_mobile_core"
	SupervisorApprovalCore  Flag = "supervisor_approval_core"
	OfflineMode             Flag = "offline_mode"

	// Phase 2: enterprise capabilities.
	AssetInventoryManagement Flag = "asset_inventory_management"
	APIIntegrations          Flag = "api_integrations"
	ExpandedFormsLibrary     Flag = "expanded_forms_library"

	// Phase 3: optimisation.
	AIAssistedDispatching Flag = "ai_assisted_dispatching"
	AdvancedAnalytics     Flag = "advanced_analytics"
	IoTIntegration        Flag = "iot_integration"
	CrewProjectManagement Flag = "crew_project_management"
)

// Flags is the rollout state read from FEATURE_* environment variables.
type Flags struct {
	GeospatialCommandCenter  bool `envconfig:"GEOSPATIAL_COMMAND_CENTER" default:"true"`
	WorkOrderLifecycle       bool `envconfig:"WORK_ORDER_LIFECYCLE" default:"true"`
	TechnicianMobileCore     bool `envconfig:"TECHNICIAN_MOBILE_CORE" default:"true"`
	SupervisorApprovalCore   bool `envconfig:"SUPERVISOR_APPROVAL_CORE" default:"true"`
	OfflineMode              bool `envconfig:"OFFLINE_MODE" default:"true"`
	AssetInventoryManagement bool `envconfig:"ASSET_INVENTORY_MANAGEMENT" default:"true"`
	APIIntegrations          bool `envconfig:"API_INTEGRATIONS" default:"true"`
	ExpandedFormsLibrary     bool `envconfig:"EXPANDED_FORMS_LIBRARY" default:"true"`
	AIAssistedDispatching    bool `envconfig:"AI_ASSISTED_DISPATCHING" default:"true"`
	AdvancedAnalytics        bool `envconfig:"ADVANCED_ANALYTICS" default:"true"`
	IoTIntegration           bool `envconfig:"IOT_INTEGRATION" default:"false"`
	CrewProjectManagement    bool `envconfig:"CREW_PROJECT_MANAGEMENT" default:"true"`
}

// LoadFlags reads FEATURE_* variables, applying rollout defaults.
func LoadFlags() (Flags, error) {
	var f Flags
	if err := envconfig.Process("feature", &f); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// States returns every flag with its current value.
func (f Flags) States() map[Flag]bool {
	return map[Flag]bool{
		GeospatialCommandCenter:  f.GeospatialCommandCenter,
		WorkOrderLifecycle:       f.WorkOrderLifecycle,
		TechnicianMobileCore:     f.TechnicianMobileCore,
		SupervisorApprovalCore:   f.SupervisorApprovalCore,
		OfflineMode:              f.OfflineMode,
		AssetInventoryManagement: f.AssetInventoryManagement,
		APIIntegrations:          f.APIIntegrations,
		ExpandedFormsLibrary:     f.ExpandedFormsLibrary,
		AIAssistedDispatching:    f.AIAssistedDispatching,
		AdvancedAnalytics:        f.AdvancedAnalytics,
		IoTIntegration:           f.IoTIntegration,
		CrewProjectManagement:    f.CrewProjectManagement,
	}
}

// Enabled reports whether flag is on. Unknown flags are off.
func (f Flags) Enabled(flag Flag) bool {
	return f.States()[flag]
}

// permissionFlags ties permissions to the rollout flag that ships them.
// Permissions not listed are always available.
var permissionFlags = map[rbac.Permission]Flag{
	rbac.PermViewMap:           GeospatialCommandCenter,
	rbac.PermMapManage:         GeospatialCommandCenter,
	rbac.PermJobComplete:       WorkOrderLifecycle,
	rbac.PermViewApprovals:     SupervisorApprovalCore,
	rbac.PermSubmissionApprove: SupervisorApprovalCore,
	rbac.PermViewAssets:        AssetInventoryManagement,
	rbac.PermViewAssetDetail:   AssetInventoryManagement,
	rbac.PermAssetManage:       AssetInventoryManagement,
	rbac.PermViewInventory:     AssetInventoryManagement,
	rbac.PermInventoryManage:   AssetInventoryManagement,
	rbac.PermInventoryTransfer: AssetInventoryManagement,
	rbac.PermViewFindPart:      AssetInventoryManagement,
	rbac.PermPartFind:          AssetInventoryManagement,
	rbac.PermViewPMPlans:       AssetInventoryManagement,
	rbac.PermPMPlanRun:         AssetInventoryManagement,
	rbac.PermViewForms:         ExpandedFormsLibrary,
	rbac.PermViewDispatch:      AIAssistedDispatching,
	rbac.PermViewReports:       AdvancedAnalytics,
	rbac.PermReportBuild:       AdvancedAnalytics,
	rbac.PermViewProjects:      CrewProjectManagement,
	rbac.PermViewCrewRotation:  CrewProjectManagement,
}

// FlagFor returns the flag gating perm, if any.
func FlagFor(perm rbac.Permission) (Flag, bool) {
	flag, ok := permissionFlags[perm]
	return flag, ok
}

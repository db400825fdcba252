package rbac

import "fmt"

// declaredGrants lists what each role adds on top of every lower-leveled
// role. Effective sets are computed from this table at init.
var declaredGrants = map[Role][]Permission{
	RoleViewer: {
		PermEstimatesRead,
		PermLineItemsRead,
		PermPMScopeRead,
		PermVendorsRead,
		PermCarriersRead,
		PermPriceListsRead,
		PermReportsView,
	},
	RoleVendorCoordinator: {
		PermVendorsManage,
		PermVendorsAssign,
	},
	RoleProjectManager: {
		PermPMScopeUpdate,
		PermAIGenerate,
	},
	RoleEstimator: {
		PermEstimatesCreate,
		PermEstimatesUpdate,
		PermEstimatesExport,
		PermLineItemsManage,
		PermReportsExport,
	},
	RoleManager: {
		PermEstimatesManage,
		PermEstimatesAssign,
		PermEstimatesApprove,
		PermEstimatesDelete,
		PermCarriersManage,
		PermPriceListsManage,
		PermUsersRead,
		PermSettingsView,
	},
	RoleAdmin: {
		PermUsersInvite,
		PermUsersManageRoles,
		PermAuditRead,
		PermSettingsManage,
		PermSettingsManageIntegrations,
		PermSettingsManageBilling,
	},
	RoleSuperAdmin: {
		PermPlatformBypass,
	},
}

var effectiveGrants = buildEffectiveGrants()

func init() {
	if err := validatePolicy(); err != nil {
		panic(fmt.Sprintf("rbac: invalid role policy: %v", err))
	}
}

// buildEffectiveGrants folds declared grants upward through the role levels
// so every role holds everything a lower role holds.
func buildEffectiveGrants() map[Role]PermissionSet {
	out := make(map[Role]PermissionSet, len(rolesByLevel))
	acc := NewPermissionSet()
	for _, r := range rolesByLevel {
		for _, p := range declaredGrants[r] {
			acc.Add(p)
		}
		out[r] = acc.Clone()
	}
	return out
}

// validatePolicy checks the registry and grant tables against each other.
func validatePolicy() error {
	levels := make(map[int]Role, len(roleRegistry))
	for r, def := range roleRegistry {
		if def.Role != r {
			return fmt.Errorf("role %q registered under key %q", def.Role, r)
		}
		if def.Level <= LevelNone {
			return fmt.Errorf("role %q has non-positive level %d", r, def.Level)
		}
		if other, dup := levels[def.Level]; dup {
			return fmt.Errorf("roles %q and %q share level %d", r, other, def.Level)
		}
		levels[def.Level] = r
		if _, ok := declaredGrants[r]; !ok {
			return fmt.Errorf("role %q has no declared grants", r)
		}
	}
	for r, perms := range declaredGrants {
		if !r.Valid() {
			return fmt.Errorf("grants declared for unregistered role %q", r)
		}
		for _, p := range perms {
			if !p.Valid() {
				return fmt.Errorf("role %q: %w: %q", r, ErrUnknownPermission, p)
			}
		}
	}
	// Each permission enters the hierarchy at exactly one level.
	declaredAt := make(map[Permission]Role)
	for _, r := range rolesByLevel {
		for _, p := range declaredGrants[r] {
			if prev, dup := declaredAt[p]; dup {
				return fmt.Errorf("%q declared for both %q and %q", p, prev, r)
			}
			declaredAt[p] = r
		}
	}
	if top := rolesByLevel[len(rolesByLevel)-1]; declaredAt[PermPlatformBypass] != top {
		return fmt.Errorf("%q must be declared only for %q", PermPlatformBypass, top)
	}
	return nil
}

// PermissionsFor returns the effective permission set of role. The result is
// a copy the caller may modify. Unknown roles get an empty set.
func PermissionsFor(role Role) PermissionSet {
	set, ok := effectiveGrants[role]
	if !ok {
		return NewPermissionSet()
	}
	return set.Clone()
}

// MergePermissions returns the union of sets.
func MergePermissions(sets ...PermissionSet) PermissionSet {
	out := NewPermissionSet()
	for _, s := range sets {
		for p := range s {
			out.Add(p)
		}
	}
	return out
}

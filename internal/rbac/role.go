package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownRole       = errors.New("unknown role")
	ErrUnknownPermission = errors.New("unknown permission")
)

// Role is a named privilege tier a user holds within an organization.
type Role string

const (
	RoleViewer            Role = "viewer"
	RoleVendorCoordinator Role = "vendor-coordinator"
	RoleProjectManager    Role = "project-manager"
	RoleEstimator         Role = "estimator"
	RoleManager           Role = "manager"
	RoleAdmin             Role = "admin"
	RoleSuperAdmin        Role = "super-admin"
)

// LevelNone is the level of any role outside the registry. It sits below
// every registered role.
const LevelNone = 0

// RoleDefinition describes a registered role.
type RoleDefinition struct {
	Role        Role   `json:"role"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Level       int    `json:"level"`
}

var roleRegistry = map[Role]RoleDefinition{
	RoleViewer: {
		Role:        RoleViewer,
		Label:       "Viewer",
		Description: "Read-only access to estimates and reference data in the organization",
		Level:       10,
	},
	RoleVendorCoordinator: {
		Role:        RoleVendorCoordinator,
		Label:       "Vendor Coordinator",
		Description: "Manages the vendor directory and vendor assignments",
		Level:       20,
	},
	RoleProjectManager: {
		Role:        RoleProjectManager,
		Label:       "Project Manager",
		Description: "Captures site scope on assigned estimates during the PM phase",
		Level:       30,
	},
	RoleEstimator: {
		Role:        RoleEstimator,
		Label:       "Estimator",
		Description: "Creates and prices estimates, line items and levels",
		Level:       40,
	},
	RoleManager: {
		Role:        RoleManager,
		Label:       "Manager",
		Description: "Manages every estimate in the organization, approves and assigns work",
		Level:       50,
	},
	RoleAdmin: {
		Role:        RoleAdmin,
		Label:       "Administrator",
		Description: "Full control of the organization, its members and settings",
		Level:       60,
	},
	RoleSuperAdmin: {
		Role:        RoleSuperAdmin,
		Label:       "Platform Administrator",
		Description: "Platform operator with access to every organization",
		Level:       100,
	},
}

// rolesByLevel is the registry ordered by ascending level.
var rolesByLevel = func() []Role {
	roles := make([]Role, 0, len(roleRegistry))
	for r := range roleRegistry {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		return roleRegistry[roles[i]].Level < roleRegistry[roles[j]].Level
	})
	return roles
}()

// Roles returns every registered role ordered from least to most privileged.
func Roles() []Role {
	out := make([]Role, len(rolesByLevel))
	copy(out, rolesByLevel)
	return out
}

// RoleInfo returns the definition of a registered role.
func RoleInfo(r Role) (RoleDefinition, bool) {
	def, ok := roleRegistry[r]
	return def, ok
}

// Valid reports whether r is a registered role.
func (r Role) Valid() bool {
	_, ok := roleRegistry[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts user or database input to a registered Role.
// "Project_Manager" and "project-manager" both parse to RoleProjectManager.
func ParseRole(s string) (Role, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	r := Role(normalized)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// RoleLevel returns the seniority level of r, or LevelNone when r is not
// registered.
func RoleLevel(r Role) int {
	def, ok := roleRegistry[r]
	if !ok {
		return LevelNone
	}
	return def.Level
}

// HasMinimumRole reports whether role is at least as senior as threshold.
// An unknown role never satisfies a threshold, and an unknown threshold is
// never satisfied.
func HasMinimumRole(role, threshold Role) bool {
	if !role.Valid() || !threshold.Valid() {
		return false
	}
	return RoleLevel(role) >= RoleLevel(threshold)
}

// CanAssignRole reports whether an actor holding actor may grant target to
// another member. Platform administrators are provisioned out of band.
func CanAssignRole(actor, target Role) bool {
	if !actor.Valid() || !target.Valid() || target == RoleSuperAdmin {
		return false
	}
	return RoleLevel(actor) >= RoleLevel(target)
}

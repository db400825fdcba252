package rbac

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Permission is a fine-grained capability identifier of the form
// "<resource>.<action>".
type Permission string

const (
	PermEstimatesRead    Permission = "estimates.read"
	PermEstimatesCreate  Permission = "estimates.create"
	PermEstimatesUpdate  Permission = "estimates.update"
	PermEstimatesDelete  Permission = "estimates.delete"
	PermEstimatesAssign  Permission = "estimates.assign"
	PermEstimatesApprove Permission = "estimates.approve"
	PermEstimatesExport  Permission = "estimates.export"
	// PermEstimatesManage grants full access to every estimate in the
	// caller's organization.
	PermEstimatesManage Permission = "estimates.manage"

	PermLineItemsRead   Permission = "line_items.read"
	PermLineItemsManage Permission = "line_items.manage"

	PermPMScopeRead   Permission = "pm_scope.read"
	PermPMScopeUpdate Permission = "pm_scope.update"

	PermVendorsRead   Permission = "vendors.read"
	PermVendorsManage Permission = "vendors.manage"
	PermVendorsAssign Permission = "vendors.assign"

	PermCarriersRead   Permission = "carriers.read"
	PermCarriersManage Permission = "carriers.manage"

	PermPriceListsRead   Permission = "price_lists.read"
	PermPriceListsManage Permission = "price_lists.manage"

	PermReportsView   Permission = "reports.view"
	PermReportsExport Permission = "reports.export"

	PermAIGenerate Permission = "ai.generate"

	PermUsersRead        Permission = "users.read"
	PermUsersInvite      Permission = "users.invite"
	PermUsersManageRoles Permission = "users.manage_roles"

	PermAuditRead Permission = "audit.read"

	PermSettingsView               Permission = "settings.view"
	PermSettingsManage             Permission = "settings.manage"
	PermSettingsManageIntegrations Permission = "settings.manage_integrations"
	PermSettingsManageBilling      Permission = "settings.manage_billing"

	// PermPlatformBypass is the global bypass: full access to every
	// estimate in every organization.
	PermPlatformBypass Permission = "platform.bypass"
)

var permissionCatalog = map[Permission]struct{}{
	PermEstimatesRead:              {},
	PermEstimatesCreate:            {},
	PermEstimatesUpdate:            {},
	PermEstimatesDelete:            {},
	PermEstimatesAssign:            {},
	PermEstimatesApprove:           {},
	PermEstimatesExport:            {},
	PermEstimatesManage:            {},
	PermLineItemsRead:              {},
	PermLineItemsManage:            {},
	PermPMScopeRead:                {},
	PermPMScopeUpdate:              {},
	PermVendorsRead:                {},
	PermVendorsManage:              {},
	PermVendorsAssign:              {},
	PermCarriersRead:               {},
	PermCarriersManage:             {},
	PermPriceListsRead:             {},
	PermPriceListsManage:           {},
	PermReportsView:                {},
	PermReportsExport:              {},
	PermAIGenerate:                 {},
	PermUsersRead:                  {},
	PermUsersInvite:                {},
	PermUsersManageRoles:           {},
	PermAuditRead:                  {},
	PermSettingsView:               {},
	PermSettingsManage:             {},
	PermSettingsManageIntegrations: {},
	PermSettingsManageBilling:      {},
	PermPlatformBypass:             {},
}

// Permissions returns the full catalog sorted by identifier.
func Permissions() []Permission {
	out := make([]Permission, 0, len(permissionCatalog))
	for p := range permissionCatalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether p is in the catalog.
func (p Permission) Valid() bool {
	_, ok := permissionCatalog[p]
	return ok
}

// Resource returns the namespace part, e.g. "estimates".
func (p Permission) Resource() string {
	resource, _, _ := strings.Cut(string(p), ".")
	return resource
}

// Action returns the action part, e.g. "approve".
func (p Permission) Action() string {
	_, action, _ := strings.Cut(string(p), ".")
	return action
}

func (p Permission) String() string {
	return string(p)
}

// ParsePermission converts input to a catalogued Permission.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return p, nil
}

// PermissionSet is a set of permissions. The zero value is an empty set
// ready for reads; use NewPermissionSet before calling Add.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from ps.
func NewPermissionSet(ps ...Permission) PermissionSet {
	s := make(PermissionSet, len(ps))
	for _, p := range ps {
		s[p] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Add inserts p.
func (s PermissionSet) Add(p Permission) {
	s[p] = struct{}{}
}

// Len returns the number of permissions in the set.
func (s PermissionSet) Len() int {
	return len(s)
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Sorted returns the members ordered by identifier.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SubsetOf reports whether every member of s is in other.
func (s PermissionSet) SubsetOf(other PermissionSet) bool {
	for p := range s {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var ps []Permission
	if err := json.Unmarshal(data, &ps); err != nil {
		return err
	}
	*s = NewPermissionSet(ps...)
	return nil
}

package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePolicy(t *testing.T) {
	require.NoError(t, validatePolicy())
}

// withDeclared swaps one role's declared grants for the duration of a test.
func withDeclared(t *testing.T, r Role, perms ...Permission) {
	t.Helper()
	orig := declaredGrants[r]
	declaredGrants[r] = perms
	t.Cleanup(func() { declaredGrants[r] = orig })
}

func TestValidatePolicy_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		role  Role
		perms []Permission
		want  string
	}{
		{"uncatalogued permission", RoleViewer, []Permission{PermEstimatesRead, "estimates.everything"}, "estimates.everything"},
		{"permission declared twice", RoleManager, append([]Permission{PermEstimatesRead}, declaredGrants[RoleManager]...), "declared for both"},
		{"bypass below the top role", RoleAdmin, append([]Permission{PermPlatformBypass}, declaredGrants[RoleAdmin]...), "platform.bypass"},
		{"bypass missing", RoleSuperAdmin, nil, "platform.bypass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withDeclared(t, tt.role, tt.perms...)
			err := validatePolicy()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPermissionsFor_SubsetByLevel(t *testing.T) {
	roles := Roles()
	for i, lower := range roles {
		for _, higher := range roles[i+1:] {
			require.Less(t, RoleLevel(lower), RoleLevel(higher))
			assert.Truef(t, PermissionsFor(lower).SubsetOf(PermissionsFor(higher)),
				"%s should hold every permission of %s", higher, lower)
		}
	}
}

func TestPermissionsFor_UnknownRoleIsEmpty(t *testing.T) {
	for _, r := range []Role{"", "owner", "ADMIN", "org_admin"} {
		assert.Zero(t, PermissionsFor(r).Len(), "role %q", r)
	}
}

func TestPermissionsFor_ReturnsCopy(t *testing.T) {
	set := PermissionsFor(RoleViewer)
	set.Add(PermPlatformBypass)

	assert.False(t, PermissionsFor(RoleViewer).Has(PermPlatformBypass))
	assert.False(t, HasPermission(RoleViewer, PermPlatformBypass))
}

func TestPermissionsFor_OnlyCataloguedPermissions(t *testing.T) {
	for _, r := range Roles() {
		for p := range PermissionsFor(r) {
			assert.True(t, p.Valid(), "role %s holds uncatalogued %q", r, p)
		}
	}
}

func TestPlatformBypass_OnlySuperAdmin(t *testing.T) {
	for _, r := range Roles() {
		assert.Equal(t, r == RoleSuperAdmin, HasPermission(r, PermPlatformBypass), "role %s", r)
	}
}

func TestMergePermissions(t *testing.T) {
	a := NewPermissionSet(PermEstimatesRead, PermVendorsRead)
	b := NewPermissionSet(PermVendorsRead, PermAIGenerate)

	merged := MergePermissions(a, b, nil)

	assert.Equal(t, []Permission{PermAIGenerate, PermEstimatesRead, PermVendorsRead}, merged.Sorted())
	assert.Equal(t, 2, a.Len(), "inputs are not modified")
	assert.Zero(t, MergePermissions().Len())
}

func TestBuildEffectiveGrants_UnionOfLowerLevels(t *testing.T) {
	var want []Permission
	for _, r := range Roles() {
		want = append(want, declaredGrants[r]...)
		got := PermissionsFor(r)
		assert.Equal(t, NewPermissionSet(want...).Sorted(), got.Sorted(), "role %s", r)
	}
}

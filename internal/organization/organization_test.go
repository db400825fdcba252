package organization_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xtmate/xtmate/internal/organization"
	"github.com/xtmate/xtmate/internal/rbac"
)

func actor(role rbac.Role) *rbac.AuthContext {
	return &rbac.AuthContext{UserID: "user_actor", OrganizationID: "org_1", Role: role}
}

func TestAuthorizeRoleChange(t *testing.T) {
	tests := []struct {
		name    string
		actor   *rbac.AuthContext
		target  string
		current rbac.Role
		next    rbac.Role
		wantErr error
	}{
		{"admin promotes estimator", actor(rbac.RoleAdmin), "user_b", rbac.RoleEstimator, rbac.RoleManager, nil},
		{"admin demotes admin", actor(rbac.RoleAdmin), "user_b", rbac.RoleAdmin, rbac.RoleViewer, nil},
		{"manager lacks permission", actor(rbac.RoleManager), "user_b", rbac.RoleViewer, rbac.RoleEstimator, organization.ErrRoleChangeDenied},
		{"no actor", nil, "user_b", rbac.RoleViewer, rbac.RoleEstimator, organization.ErrRoleChangeDenied},
		{"self change", actor(rbac.RoleAdmin), "user_actor", rbac.RoleAdmin, rbac.RoleViewer, organization.ErrSelfRoleChange},
		{"super-admin never assignable", actor(rbac.RoleSuperAdmin), "user_b", rbac.RoleAdmin, rbac.RoleSuperAdmin, organization.ErrRoleChangeDenied},
		{"admin cannot touch super-admin", actor(rbac.RoleAdmin), "user_b", rbac.RoleSuperAdmin, rbac.RoleViewer, organization.ErrRoleChangeDenied},
		{"super-admin demotes admin", actor(rbac.RoleSuperAdmin), "user_b", rbac.RoleAdmin, rbac.RoleManager, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := organization.AuthorizeRoleChange(tt.actor, tt.target, tt.current, tt.next)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthorizeRoleChange_TemporaryGrant(t *testing.T) {
	ac := actor(rbac.RoleManager)
	ac.Grants = rbac.NewPermissionSet(rbac.PermUsersManageRoles)

	assert.NoError(t, organization.AuthorizeRoleChange(ac, "user_b", rbac.RoleViewer, rbac.RoleEstimator))
	assert.ErrorIs(t, organization.AuthorizeRoleChange(ac, "user_b", rbac.RoleViewer, rbac.RoleAdmin), organization.ErrRoleChangeDenied)
}

package organization

import (
	"errors"
	"fmt"
	"time"

	"github.com/xtmate/xtmate/internal/rbac"
)

var (
	ErrMemberNotFound   = errors.New("member not found")
	ErrRoleChangeDenied = errors.New("role change not permitted")
	ErrSelfRoleChange   = errors.New("cannot change your own role")
)

// Member is a user's membership in one organization.
type Member struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	Role           rbac.Role `json:"role"`
	Grants         []string  `json:"grants"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AuthorizeRoleChange decides whether actor may move target from current to
// next. The actor must outrank or match both roles, and nobody edits their
// own membership.
func AuthorizeRoleChange(actor *rbac.AuthContext, targetUserID string, current, next rbac.Role) error {
	if actor == nil || !actor.Can(rbac.PermUsersManageRoles) {
		return fmt.Errorf("%w: missing %s", ErrRoleChangeDenied, rbac.PermUsersManageRoles)
	}
	if actor.UserID == targetUserID {
		return ErrSelfRoleChange
	}
	if !rbac.CanAssignRole(actor.Role, next) {
		return fmt.Errorf("%w: %s cannot assign %s", ErrRoleChangeDenied, actor.Role, next)
	}
	if !rbac.CanAssignRole(actor.Role, current) {
		return fmt.Errorf("%w: %s cannot modify a %s", ErrRoleChangeDenied, actor.Role, current)
	}
	return nil
}

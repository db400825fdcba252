package rbac

import (
	"fmt"
	"strings"
)

// HasPermission reports whether role's effective set contains p.
func HasPermission(role Role, p Permission) bool {
	set, ok := effectiveGrants[role]
	if !ok {
		return false
	}
	return set.Has(p)
}

// HasAnyPermission reports whether role holds at least one of ps.
func HasAnyPermission(role Role, ps ...Permission) bool {
	for _, p := range ps {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether role holds every one of ps. An empty
// list is not satisfied.
func HasAllPermissions(role Role, ps ...Permission) bool {
	if len(ps) == 0 {
		return false
	}
	for _, p := range ps {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

// Mode selects how a Requirement combines its permissions.
type Mode int

const (
	ModeAll Mode = iota
	ModeAny
)

// Requirement is the permission expression a protected operation demands.
type Requirement struct {
	Mode        Mode
	Permissions []Permission
}

// Require demands a single permission.
func Require(p Permission) Requirement {
	return Requirement{Mode: ModeAll, Permissions: []Permission{p}}
}

// RequireAny demands at least one of ps.
func RequireAny(ps ...Permission) Requirement {
	return Requirement{Mode: ModeAny, Permissions: ps}
}

// RequireAll demands every one of ps.
func RequireAll(ps ...Permission) Requirement {
	return Requirement{Mode: ModeAll, Permissions: ps}
}

// SatisfiedBy evaluates the requirement against a permission set. A
// requirement naming no permissions, or naming one outside the catalog under
// ModeAll, is never satisfied.
func (r Requirement) SatisfiedBy(set PermissionSet) bool {
	if len(r.Permissions) == 0 {
		return false
	}
	switch r.Mode {
	case ModeAny:
		for _, p := range r.Permissions {
			if p.Valid() && set.Has(p) {
				return true
			}
		}
		return false
	case ModeAll:
		for _, p := range r.Permissions {
			if !p.Valid() || !set.Has(p) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (r Requirement) String() string {
	names := make([]string, len(r.Permissions))
	for i, p := range r.Permissions {
		names[i] = string(p)
	}
	sep := " and "
	if r.Mode == ModeAny {
		sep = " or "
	}
	return strings.Join(names, sep)
}

// Authorize decides whether ac satisfies req.
func Authorize(ac *AuthContext, req Requirement) *Decision {
	if ac == nil {
		return &Decision{Allowed: false, Reason: "no identity"}
	}
	if !ac.Role.Valid() {
		return &Decision{Allowed: false, Reason: "no role in organization"}
	}
	if !req.SatisfiedBy(ac.Permissions()) {
		return &Decision{Allowed: false, Reason: fmt.Sprintf("no permission for %s", req)}
	}
	return &Decision{Allowed: true}
}

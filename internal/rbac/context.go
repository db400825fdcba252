package rbac

import "context"

// AuthContext is the resolved caller of one request: who they are, which
// organization they act in, and their role there. It is built once per
// request and treated as read-only afterwards.
type AuthContext struct {
	UserID         string        `json:"user_id"`
	OrganizationID string        `json:"organization_id"`
	Role           Role          `json:"role"`
	DisplayName    string        `json:"display_name,omitempty"`
	Email          string        `json:"email,omitempty"`
	Grants         PermissionSet `json:"grants,omitempty"`
}

// Permissions returns the caller's effective permissions: the role's set
// merged with any temporary grants.
func (ac *AuthContext) Permissions() PermissionSet {
	if ac == nil {
		return NewPermissionSet()
	}
	return MergePermissions(PermissionsFor(ac.Role), ac.Grants)
}

// Can reports whether the caller holds p.
func (ac *AuthContext) Can(p Permission) bool {
	if ac == nil || !p.Valid() {
		return false
	}
	return ac.Permissions().Has(p)
}

// sanitizeGrants keeps catalogued permissions only. The platform bypass can
// never be held as a temporary grant.
func sanitizeGrants(raw []string) PermissionSet {
	out := NewPermissionSet()
	for _, s := range raw {
		p, err := ParsePermission(s)
		if err != nil || p == PermPlatformBypass {
			continue
		}
		out.Add(p)
	}
	return out
}

type authContextKey struct{}

// WithAuthContext returns a context carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// FromContext returns the AuthContext stored by WithAuthContext, or nil.
func FromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return ac
}

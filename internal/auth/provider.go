package auth

import (
	"context"

	"github.com/xtmate/xtmate/internal/rbac"
)

// ContextProvider adapts the identity placed in the request context by
// Middleware to the principal lookup the authorization layer performs.
type ContextProvider struct{}

// Identify returns rbac.ErrNoSession when the context carries no usable
// access identity.
func (ContextProvider) Identify(ctx context.Context) (*rbac.Principal, error) {
	identity := GetIdentity(ctx)
	if identity == nil || identity.UserID == "" || identity.OrganizationID == "" {
		return nil, rbac.ErrNoSession
	}
	if identity.TokenType != "" && identity.TokenType != TokenTypeAccess {
		return nil, rbac.ErrNoSession
	}
	return &rbac.Principal{
		UserID:         identity.UserID,
		OrganizationID: identity.OrganizationID,
		DisplayName:    identity.DisplayName,
		Email:          identity.Email,
	}, nil
}

var _ rbac.IdentityProvider = ContextProvider{}

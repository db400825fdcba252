package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoSession is returned by an IdentityProvider when the request
	// carries no resolvable caller.
	ErrNoSession = errors.New("no session")
	// ErrMembershipNotFound is returned by a MembershipStore when the user
	// does not belong to the organization.
	ErrMembershipNotFound = errors.New("membership not found")
	// ErrEstimateNotFound is returned by an EstimateStore for unknown IDs.
	ErrEstimateNotFound = errors.New("estimate not found")
)

// Principal is the minimal identity an IdentityProvider resolves.
type Principal struct {
	UserID         string
	OrganizationID string
	DisplayName    string
	Email          string
}

// IdentityProvider resolves the caller of the current request.
type IdentityProvider interface {
	Identify(ctx context.Context) (*Principal, error)
}

// Membership is a user's standing in one organization.
type Membership struct {
	UserID         string
	OrganizationID string
	Role           string
	Grants         []string
}

// MembershipStore loads organization membership records.
type MembershipStore interface {
	GetMembership(ctx context.Context, organizationID, userID string) (*Membership, error)
}

// EstimateStore loads the access-relevant fields of an estimate.
type EstimateStore interface {
	GetEstimate(ctx context.Context, estimateID string) (*EstimateRecord, error)
}

// Resolver turns a request's identity into an AuthContext and answers
// authorization questions about it.
type Resolver struct {
	identity  IdentityProvider
	members   MembershipStore
	estimates EstimateStore
}

// NewResolver creates a Resolver. estimates may be nil when no
// estimate-scoped checks are needed.
func NewResolver(identity IdentityProvider, members MembershipStore, estimates EstimateStore) *Resolver {
	return &Resolver{identity: identity, members: members, estimates: estimates}
}

// requestScope memoizes lookups for the lifetime of one request.
type requestScope struct {
	mu        sync.Mutex
	ac        *AuthContext
	acErr     error
	resolved  bool
	estimates map[string]*EstimateRecord
}

type requestScopeKey struct{}

// WithRequestScope returns a context in which the AuthContext and estimate
// records are looked up at most once. Call it once per inbound request.
func WithRequestScope(ctx context.Context) context.Context {
	if scopeFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, requestScopeKey{}, &requestScope{
		estimates: make(map[string]*EstimateRecord),
	})
}

func scopeFrom(ctx context.Context) *requestScope {
	s, _ := ctx.Value(requestScopeKey{}).(*requestScope)
	return s
}

// ResolveContext returns the caller's AuthContext. A caller with no session
// gets an Unauthenticated Rejection. A caller with no membership in the
// organization gets an AuthContext without a role, which every check denies.
func (rv *Resolver) ResolveContext(ctx context.Context) (*AuthContext, error) {
	if ac := FromContext(ctx); ac != nil {
		return ac, nil
	}
	scope := scopeFrom(ctx)
	if scope == nil {
		return rv.resolve(ctx)
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()
	if !scope.resolved {
		scope.ac, scope.acErr = rv.resolve(ctx)
		// Dependency failures are not memoized so a later check can retry.
		scope.resolved = !errors.Is(scope.acErr, ErrDependencyUnavailable)
		if !scope.resolved {
			return nil, scope.acErr
		}
	}
	return scope.ac, scope.acErr
}

func (rv *Resolver) resolve(ctx context.Context) (*AuthContext, error) {
	if rv.identity == nil {
		return nil, unauthenticated("no identity provider")
	}
	principal, err := rv.identity.Identify(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil, unauthenticated("no session")
		}
		return nil, fmt.Errorf("%w: resolving identity: %v", ErrDependencyUnavailable, err)
	}
	if principal == nil || principal.UserID == "" {
		return nil, unauthenticated("no session")
	}

	ac := &AuthContext{
		UserID:         principal.UserID,
		OrganizationID: principal.OrganizationID,
		DisplayName:    principal.DisplayName,
		Email:          principal.Email,
		Grants:         NewPermissionSet(),
	}
	if principal.OrganizationID == "" || rv.members == nil {
		return ac, nil
	}

	m, err := rv.members.GetMembership(ctx, principal.OrganizationID, principal.UserID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return ac, nil
		}
		return nil, fmt.Errorf("%w: loading membership: %v", ErrDependencyUnavailable, err)
	}
	if role, parseErr := ParseRole(m.Role); parseErr == nil {
		ac.Role = role
	}
	ac.Grants = sanitizeGrants(m.Grants)
	return ac, nil
}

// Guard resolves the caller and checks req. It returns the AuthContext when
// the request may proceed, a *Rejection when it may not, or an error wrapping
// ErrDependencyUnavailable.
func (rv *Resolver) Guard(ctx context.Context, req Requirement) (*AuthContext, error) {
	ac, err := rv.ResolveContext(ctx)
	if err != nil {
		return nil, err
	}
	if d := Authorize(ac, req); !d.Allowed {
		return ac, forbidden(d.Reason)
	}
	return ac, nil
}

// Estimate loads an estimate record, once per request scope.
func (rv *Resolver) Estimate(ctx context.Context, estimateID string) (*EstimateRecord, error) {
	if rv.estimates == nil {
		return nil, fmt.Errorf("%w: no estimate store", ErrDependencyUnavailable)
	}
	scope := scopeFrom(ctx)
	if scope != nil {
		scope.mu.Lock()
		est, ok := scope.estimates[estimateID]
		scope.mu.Unlock()
		if ok {
			return est, nil
		}
	}

	est, err := rv.estimates.GetEstimate(ctx, estimateID)
	if err != nil {
		if errors.Is(err, ErrEstimateNotFound) {
			return nil, ErrEstimateNotFound
		}
		return nil, fmt.Errorf("%w: loading estimate: %v", ErrDependencyUnavailable, err)
	}

	if scope != nil {
		scope.mu.Lock()
		scope.estimates[estimateID] = est
		scope.mu.Unlock()
	}
	return est, nil
}

// EstimateAccess resolves the caller's access level on an estimate. A
// missing estimate is reported exactly like one the caller cannot see.
func (rv *Resolver) EstimateAccess(ctx context.Context, estimateID string) (*AuthContext, *EstimateRecord, AccessLevel, error) {
	ac, err := rv.ResolveContext(ctx)
	if err != nil {
		return nil, nil, AccessNone, err
	}
	est, err := rv.Estimate(ctx, estimateID)
	if err != nil {
		if errors.Is(err, ErrEstimateNotFound) {
			return ac, nil, AccessNone, NoEstimateAccess()
		}
		return ac, nil, AccessNone, err
	}
	level := EstimateAccessLevel(ac, est)
	if level == AccessNone {
		return ac, nil, AccessNone, NoEstimateAccess()
	}
	return ac, est, level, nil
}

// NoEstimateAccess is the rejection for an estimate the caller cannot see,
// whether or not it exists.
func NoEstimateAccess() error {
	return forbidden("no access to estimate")
}

// InvalidateEstimate drops a cached record after the request modified it.
func InvalidateEstimate(ctx context.Context, estimateID string) {
	if scope := scopeFrom(ctx); scope != nil {
		scope.mu.Lock()
		delete(scope.estimates, estimateID)
		scope.mu.Unlock()
	}
}

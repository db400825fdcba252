package rbac

import (
	"errors"
	"fmt"
)

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
	// ErrDependencyUnavailable wraps failures of the identity, membership or
	// estimate collaborators. It is never reported as a denial.
	ErrDependencyUnavailable = errors.New("authorization dependency unavailable")
)

// RejectionKind tags why a protected operation was refused.
type RejectionKind int

const (
	KindUnauthenticated RejectionKind = iota + 1
	KindForbidden
)

func (k RejectionKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Rejection is returned by guards when a request may not proceed.
// errors.Is matches it against ErrUnauthenticated or ErrForbidden.
type Rejection struct {
	Kind   RejectionKind
	Reason string
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return r.Kind.String()
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Reason)
}

func (r *Rejection) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return r.Kind == KindUnauthenticated
	case ErrForbidden:
		return r.Kind == KindForbidden
	default:
		return false
	}
}

func unauthenticated(reason string) *Rejection {
	return &Rejection{Kind: KindUnauthenticated, Reason: reason}
}

func forbidden(reason string) *Rejection {
	return &Rejection{Kind: KindForbidden, Reason: reason}
}

package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// AuditLogger is the audit interface for RBAC denial logging.
type AuditLogger interface {
	LogDenial(ctx context.Context, denial Denial)
}

// Denial describes a refused request for audit purposes.
type Denial struct {
	UserID         string
	OrganizationID string
	Kind           RejectionKind
	Requirement    string
	ResourceType   string
	ResourceID     string
	Reason         string
}

// DecisionRecorder counts authorization outcomes, e.g. for metrics.
type DecisionRecorder interface {
	RecordDecision(outcome string)
}

// Outcome labels passed to a DecisionRecorder.
const (
	OutcomeAllowed         = "allowed"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeForbidden       = "forbidden"
	OutcomeError           = "error"
)

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	audit    AuditLogger
	recorder DecisionRecorder
}

// WithAuditLogger attaches an audit logger to log RBAC denials.
func WithAuditLogger(logger AuditLogger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = logger
	}
}

// WithDecisionRecorder attaches a recorder that sees every outcome.
func WithDecisionRecorder(rec DecisionRecorder) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.recorder = rec
	}
}

func newMiddlewareConfig(opts []MiddlewareOption) *middlewareConfig {
	mc := &middlewareConfig{}
	for _, opt := range opts {
		opt(mc)
	}
	return mc
}

func (mc *middlewareConfig) record(outcome string) {
	if mc.recorder != nil {
		mc.recorder.RecordDecision(outcome)
	}
}

// RequestScope installs a per-request lookup cache. Mount it once, outside
// every guard.
func RequestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequestScope(r.Context())))
	})
}

// RequirePermission returns middleware that lets the request through only
// when the caller holds permission.
func RequirePermission(rv *Resolver, permission Permission, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return RequireRequirement(rv, Require(permission), opts...)
}

// RequireAnyPermission returns middleware demanding at least one of permissions.
func RequireAnyPermission(rv *Resolver, permissions []Permission, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return RequireRequirement(rv, RequireAny(permissions...), opts...)
}

// RequireAllPermissions returns middleware demanding every one of permissions.
func RequireAllPermissions(rv *Resolver, permissions []Permission, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return RequireRequirement(rv, RequireAll(permissions...), opts...)
}

// RequireAuthenticated returns middleware that only resolves the caller.
// Handlers behind it read the AuthContext with FromContext.
func RequireAuthenticated(rv *Resolver, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mc := newMiddlewareConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := rv.ResolveContext(r.Context())
			if err != nil {
				mc.deny(w, r, ac, err, "", "", "")
				return
			}
			mc.record(OutcomeAllowed)
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}

// RequireRequirement returns middleware enforcing an arbitrary permission
// expression.
func RequireRequirement(rv *Resolver, req Requirement, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mc := newMiddlewareConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := rv.Guard(r.Context(), req)
			if err != nil {
				mc.deny(w, r, ac, err, req.String(), "", "")
				return
			}
			mc.record(OutcomeAllowed)
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}

// RequireEstimateAccess returns middleware that resolves the caller's access
// level on the estimate named by the path parameter param and demands at
// least minLevel. Handlers read the level with EstimateAccessFromContext.
func RequireEstimateAccess(rv *Resolver, minLevel AccessLevel, param string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mc := newMiddlewareConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			estimateID := r.PathValue(param)
			if estimateID == "" {
				writeError(w, http.StatusBadRequest, "missing estimate id", "")
				return
			}

			ac, est, level, err := rv.EstimateAccess(r.Context(), estimateID)
			if err == nil && level < minLevel {
				err = forbidden("requires " + minLevel.String() + " access")
			}
			if err != nil {
				mc.deny(w, r, ac, err, "estimate:"+minLevel.String(), "estimate", estimateID)
				return
			}

			mc.record(OutcomeAllowed)
			ctx := WithAuthContext(r.Context(), ac)
			ctx = context.WithValue(ctx, estimateAccessKey{}, &EstimateAccess{Estimate: est, Level: level})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EstimateAccess is the resolved access of the caller to one estimate.
type EstimateAccess struct {
	Estimate *EstimateRecord
	Level    AccessLevel
}

type estimateAccessKey struct{}

// EstimateAccessFromContext returns what RequireEstimateAccess resolved.
func EstimateAccessFromContext(ctx context.Context) *EstimateAccess {
	ea, _ := ctx.Value(estimateAccessKey{}).(*EstimateAccess)
	return ea
}

func (mc *middlewareConfig) deny(w http.ResponseWriter, r *http.Request, ac *AuthContext, err error, requirement, resourceType, resourceID string) {
	var rej *Rejection
	if !errors.As(err, &rej) {
		mc.record(OutcomeError)
		slog.ErrorContext(r.Context(), "authorization check failed", "error", err, "path", r.URL.Path)
		WriteError(w, err)
		return
	}

	if rej.Kind == KindUnauthenticated {
		mc.record(OutcomeUnauthenticated)
	} else {
		mc.record(OutcomeForbidden)
	}

	if mc.audit != nil {
		d := Denial{
			Kind:         rej.Kind,
			Requirement:  requirement,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Reason:       rej.Reason,
		}
		if ac != nil {
			d.UserID = ac.UserID
			d.OrganizationID = ac.OrganizationID
		}
		mc.audit.LogDenial(r.Context(), d)
	}
	WriteError(w, err)
}

// WriteError maps an authorization error to its HTTP response:
// Unauthenticated → 401, Forbidden → 403, anything else → 503.
func WriteError(w http.ResponseWriter, err error) {
	var rej *Rejection
	switch {
	case errors.As(err, &rej) && rej.Kind == KindUnauthenticated:
		writeError(w, http.StatusUnauthorized, "authentication required", "")
	case errors.As(err, &rej):
		writeError(w, http.StatusForbidden, "forbidden", rej.Reason)
	case errors.Is(err, ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required", "")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "")
	default:
		writeError(w, http.StatusServiceUnavailable, "authorization check failed", "")
	}
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	body := map[string]string{"error": msg}
	if reason != "" {
		body["reason"] = reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

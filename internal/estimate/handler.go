package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/xtmate/xtmate/internal/audit"
	"github.com/xtmate/xtmate/internal/platform/database"
	"github.com/xtmate/xtmate/internal/rbac"
)

const maxBodyBytes = 1 << 20

// DB is the database handle the handler needs.
type DB interface {
	database.Querier
	database.TxBeginner
}

// Handler serves the estimate routes.
type Handler struct {
	db          DB
	store       *Store
	auditLogger audit.Logger
	denials     rbac.AuditLogger
}

// NewHandler creates an estimate handler. Field-level denials are written
// to auditLogger alongside the change events.
func NewHandler(db DB, store *Store, auditLogger audit.Logger) *Handler {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handler{
		db:          db,
		store:       store,
		auditLogger: auditLogger,
		denials:     audit.NewDenialLogger(auditLogger),
	}
}

// RegisterRoutes mounts the estimate routes. Reads and writes of a single
// estimate are gated on the caller's access level to that record.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, rv *rbac.Resolver, opts ...rbac.MiddlewareOption) {
	mux.Handle("POST /api/v1/estimates",
		rbac.RequirePermission(rv, rbac.PermEstimatesCreate, opts...)(http.HandlerFunc(h.HandleCreate)))
	mux.Handle("GET /api/v1/estimates/{id}",
		rbac.RequireEstimateAccess(rv, rbac.AccessReadOnly, "id", opts...)(http.HandlerFunc(h.HandleGet)))
	mux.Handle("GET /api/v1/estimates/{id}/access",
		rbac.RequireEstimateAccess(rv, rbac.AccessReadOnly, "id", opts...)(http.HandlerFunc(h.HandleAccess)))
	mux.Handle("PATCH /api/v1/estimates/{id}",
		rbac.RequireEstimateAccess(rv, rbac.AccessLimitedUpdate, "id", opts...)(http.HandlerFunc(h.HandleUpdate)))
}

// HandleCreate creates a draft estimate owned by the caller.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ac := rbac.FromContext(r.Context())
	if ac == nil || ac.OrganizationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization context required"})
		return
	}

	initial, ok := decodeUpdate(w, r, true)
	if !ok {
		return
	}
	if err := checkPrivileged(ac, initial, rbac.StatusDraft); err != nil {
		h.logFieldDenial(r.Context(), ac, "", "estimate:create", err)
		rbac.WriteError(w, err)
		return
	}

	est, err := h.create(r.Context(), ac, initial)
	if err != nil {
		slog.ErrorContext(r.Context(), "creating estimate", "error", err, "organization_id", ac.OrganizationID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "estimate creation failed"})
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		OrganizationID: ac.OrganizationID,
		UserID:         ac.UserID,
		Action:         audit.ActionEstimateCreated,
		ResourceType:   "estimate",
		ResourceID:     est.ID,
		Source:         audit.SourceAPI,
	})
	writeJSON(w, http.StatusCreated, est)
}

func (h *Handler) create(ctx context.Context, ac *rbac.AuthContext, initial Update) (*Estimate, error) {
	var est *Estimate
	err := database.WithTx(ctx, h.db, func(ctx context.Context, q database.Querier) error {
		var err error
		est, err = h.store.Create(ctx, q, NewEstimate{OrganizationID: ac.OrganizationID, OwnerID: ac.UserID}, initial)
		return err
	})
	return est, err
}

// HandleGet returns the estimate resolved by the access middleware.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ea := rbac.EstimateAccessFromContext(r.Context())
	if ea == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "estimate access not resolved"})
		return
	}

	est, err := h.store.Get(r.Context(), h.db, ea.Estimate.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Deleted after the access check; same body as any other denial.
			rbac.WriteError(w, rbac.NoEstimateAccess())
			return
		}
		slog.ErrorContext(r.Context(), "getting estimate", "error", err, "estimate_id", ea.Estimate.ID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "loading estimate failed"})
		return
	}
	writeJSON(w, http.StatusOK, est)
}

type accessResponse struct {
	EstimateID     string           `json:"estimate_id"`
	Level          rbac.AccessLevel `json:"level"`
	EditableFields []string         `json:"editable_fields"`
}

// HandleAccess reports the caller's access level on the estimate and the
// fields the caller may write at that level.
func (h *Handler) HandleAccess(w http.ResponseWriter, r *http.Request) {
	ea := rbac.EstimateAccessFromContext(r.Context())
	if ea == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "estimate access not resolved"})
		return
	}
	editable := rbac.WritableFields(rbac.FromContext(r.Context()), ea.Level, Fields())
	if editable == nil {
		editable = []string{}
	}
	writeJSON(w, http.StatusOK, accessResponse{
		EstimateID:     ea.Estimate.ID,
		Level:          ea.Level,
		EditableFields: editable,
	})
}

// HandleUpdate applies a partial update. The whole update is refused if any
// field is outside what the caller's access level permits. Access is
// recomputed against the locked row so a concurrent status change cannot
// widen what was checked.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ea := rbac.EstimateAccessFromContext(r.Context())
	ac := rbac.FromContext(r.Context())
	if ea == nil || ac == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "estimate access not resolved"})
		return
	}
	estimateID := ea.Estimate.ID

	u, ok := decodeUpdate(w, r, false)
	if !ok {
		return
	}
	fields := u.Fields()

	if err := rbac.CheckFieldUpdate(ea.Level, fields); err != nil {
		h.logFieldDenial(r.Context(), ac, estimateID, fieldRequirement(ea.Level), err)
		rbac.WriteError(w, err)
		return
	}
	if err := checkPrivileged(ac, u, ea.Estimate.WorkflowStatus); err != nil {
		h.logFieldDenial(r.Context(), ac, estimateID, fieldRequirement(ea.Level), err)
		rbac.WriteError(w, err)
		return
	}

	var (
		updated *Estimate
		level   = ea.Level
	)
	err := database.WithTx(r.Context(), h.db, func(ctx context.Context, q database.Querier) error {
		current, err := h.store.GetForUpdate(ctx, q, estimateID)
		if err != nil {
			return err
		}
		level = rbac.EstimateAccessLevel(ac, current.Record())
		if err := rbac.CheckFieldUpdate(level, fields); err != nil {
			return err
		}
		if err := checkPrivileged(ac, u, current.WorkflowStatus); err != nil {
			return err
		}
		updated, err = h.store.Update(ctx, q, estimateID, u)
		return err
	})
	rbac.InvalidateEstimate(r.Context(), estimateID)

	var rej *rbac.Rejection
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		rbac.WriteError(w, rbac.NoEstimateAccess())
		return
	case errors.As(err, &rej):
		h.logFieldDenial(r.Context(), ac, estimateID, fieldRequirement(level), err)
		rbac.WriteError(w, err)
		return
	default:
		slog.ErrorContext(r.Context(), "updating estimate", "error", err, "estimate_id", estimateID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "estimate update failed"})
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		OrganizationID: updated.OrganizationID,
		UserID:         ac.UserID,
		Action:         audit.ActionEstimateUpdated,
		ResourceType:   "estimate",
		ResourceID:     estimateID,
		Metadata: map[string]any{
			audit.MetadataFields:      fields,
			audit.MetadataAccessLevel: level.String(),
		},
		Source: audit.SourceAPI,
	})
	writeJSON(w, http.StatusOK, updated)
}

// checkPrivileged applies the permission gates that sit on top of the access
// level: assignment fields and moves into or out of approved.
func checkPrivileged(ac *rbac.AuthContext, u Update, currentStatus string) error {
	if err := rbac.CheckFieldPermissions(ac, u.Fields()); err != nil {
		return err
	}
	if next, ok := u[rbac.FieldWorkflowStatus].(string); ok {
		return rbac.CheckStatusTransition(ac, currentStatus, next)
	}
	return nil
}

func fieldRequirement(level rbac.AccessLevel) string {
	return "estimate:fields:" + level.String()
}

func (h *Handler) logFieldDenial(ctx context.Context, ac *rbac.AuthContext, estimateID, requirement string, err error) {
	var rej *rbac.Rejection
	reason := err.Error()
	if errors.As(err, &rej) {
		reason = rej.Reason
	}
	h.denials.LogDenial(ctx, rbac.Denial{
		UserID:         ac.UserID,
		OrganizationID: ac.OrganizationID,
		Kind:           rbac.KindForbidden,
		Requirement:    requirement,
		ResourceType:   "estimate",
		ResourceID:     estimateID,
		Reason:         reason,
	})
}

// decodeUpdate reads and validates a patch body, writing a 400 on failure.
func decodeUpdate(w http.ResponseWriter, r *http.Request, allowEmpty bool) (Update, bool) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return Update{}, true
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return nil, false
	}
	if len(raw) == 0 && !allowEmpty {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no fields to update"})
		return nil, false
	}
	u, err := ParseUpdate(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return nil, false
	}
	return u, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

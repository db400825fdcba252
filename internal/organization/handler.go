package organization

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xtmate/xtmate/internal/audit"
	"github.com/xtmate/xtmate/internal/platform/database"
	"github.com/xtmate/xtmate/internal/rbac"
)

// DB is the database handle the handler needs: plain queries plus
// transactions for role changes.
type DB interface {
	database.Querier
	database.TxBeginner
}

// Handler serves membership and role endpoints for the caller's organization.
type Handler struct {
	db          DB
	store       *Store
	auditLogger audit.Logger
}

// NewHandler creates a membership handler.
func NewHandler(db DB, store *Store, auditLogger audit.Logger) *Handler {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handler{db: db, store: store, auditLogger: auditLogger}
}

// RegisterRoutes mounts the handler behind the permissions each route needs.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, rv *rbac.Resolver, opts ...rbac.MiddlewareOption) {
	mux.Handle("GET /api/v1/me",
		rbac.RequireAuthenticated(rv, opts...)(http.HandlerFunc(h.HandleMe)))
	mux.Handle("GET /api/v1/roles",
		rbac.RequirePermission(rv, rbac.PermUsersRead, opts...)(http.HandlerFunc(h.HandleListRoles)))
	mux.Handle("GET /api/v1/members",
		rbac.RequirePermission(rv, rbac.PermUsersRead, opts...)(http.HandlerFunc(h.HandleListMembers)))
	mux.Handle("PUT /api/v1/members/{userID}/role",
		rbac.RequirePermission(rv, rbac.PermUsersManageRoles, opts...)(http.HandlerFunc(h.HandleUpdateRole)))
}

type meResponse struct {
	UserID         string            `json:"user_id"`
	OrganizationID string            `json:"organization_id"`
	DisplayName    string            `json:"display_name,omitempty"`
	Email          string            `json:"email,omitempty"`
	Role           rbac.Role         `json:"role"`
	RoleLevel      int               `json:"role_level"`
	Permissions    []rbac.Permission `json:"permissions"`
}

// HandleMe returns the caller's resolved context so clients can gate UI.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ac := rbac.FromContext(r.Context())
	if ac == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:         ac.UserID,
		OrganizationID: ac.OrganizationID,
		DisplayName:    ac.DisplayName,
		Email:          ac.Email,
		Role:           ac.Role,
		RoleLevel:      rbac.RoleLevel(ac.Role),
		Permissions:    ac.Permissions().Sorted(),
	})
}

type roleResponse struct {
	rbac.RoleDefinition
	Permissions []rbac.Permission `json:"permissions"`
	Assignable  bool              `json:"assignable"`
}

// HandleListRoles returns the role registry, lowest level first, with each
// role's effective permissions and whether the caller may assign it.
func (h *Handler) HandleListRoles(w http.ResponseWriter, r *http.Request) {
	ac := rbac.FromContext(r.Context())
	var actor rbac.Role
	if ac != nil {
		actor = ac.Role
	}

	roles := rbac.Roles()
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		def, _ := rbac.RoleInfo(role)
		out = append(out, roleResponse{
			RoleDefinition: def,
			Permissions:    rbac.PermissionsFor(role).Sorted(),
			Assignable:     rbac.CanAssignRole(actor, role),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleListMembers returns every member of the caller's organization.
func (h *Handler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	ac := rbac.FromContext(r.Context())
	if ac == nil || ac.OrganizationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization context required"})
		return
	}

	members, err := h.store.ListMembers(r.Context(), h.db, ac.OrganizationID)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing members", "error", err, "organization_id", ac.OrganizationID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing members failed"})
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// HandleUpdateRole changes a member's role. The current role is read under
// a row lock so the hierarchy check and the write see the same value.
func (h *Handler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)

	ac := rbac.FromContext(r.Context())
	if ac == nil || ac.OrganizationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization context required"})
		return
	}

	targetID := r.PathValue("userID")
	if targetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user id"})
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	next, err := rbac.ParseRole(req.Role)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var (
		previous rbac.Role
		updated  *Member
	)
	err = database.WithTx(r.Context(), h.db, func(ctx context.Context, q database.Querier) error {
		current, err := h.store.GetMemberForUpdate(ctx, q, ac.OrganizationID, targetID)
		if err != nil {
			return err
		}
		if err := AuthorizeRoleChange(ac, targetID, current.Role, next); err != nil {
			return err
		}
		previous = current.Role
		if current.Role == next {
			updated = current
			return nil
		}
		updated, err = h.store.SetRole(ctx, q, ac.OrganizationID, targetID, next)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrMemberNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, ErrRoleChangeDenied), errors.Is(err, ErrSelfRoleChange):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	default:
		slog.ErrorContext(r.Context(), "updating member role", "error", err,
			"organization_id", ac.OrganizationID, "user_id", targetID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "role update failed"})
		return
	}

	if previous != next {
		h.auditLogger.Log(r.Context(), audit.Event{
			OrganizationID: ac.OrganizationID,
			UserID:         ac.UserID,
			Action:         audit.ActionMemberRoleSet,
			ResourceType:   "member",
			ResourceID:     targetID,
			Metadata: map[string]any{
				audit.MetadataFromRole: previous.String(),
				audit.MetadataToRole:   next.String(),
			},
			Source: audit.SourceAPI,
		})
	}

	writeJSON(w, http.StatusOK, updated)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

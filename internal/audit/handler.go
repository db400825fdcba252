package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/xtmate/xtmate/internal/platform/database"
	"github.com/xtmate/xtmate/internal/rbac"
)

// Handler serves audit query endpoints.
type Handler struct {
	db           database.Querier
	store        *Store
	defaultLimit int
}

// NewHandler creates an audit query handler. defaultLimit applies when the
// request has no limit parameter.
func NewHandler(db database.Querier, store *Store, defaultLimit int) *Handler {
	if defaultLimit <= 0 || defaultLimit > MaxListLimit {
		defaultLimit = 50
	}
	return &Handler{db: db, store: store, defaultLimit: defaultLimit}
}

// RegisterRoutes mounts the audit routes behind audit.read.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, rv *rbac.Resolver, opts ...rbac.MiddlewareOption) {
	mux.Handle("GET /api/v1/audit/events",
		rbac.RequirePermission(rv, rbac.PermAuditRead, opts...)(http.HandlerFunc(h.HandleListEvents)))
}

// HandleListEvents returns audit events for the caller's organization.
// GET /api/v1/audit/events?limit=50&action=access.denied&after=<RFC3339>
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ac := rbac.FromContext(r.Context())
	if ac == nil || ac.OrganizationID == "" {
		writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "organization context required"})
		return
	}

	params, err := h.parseListParams(r)
	if err != nil {
		writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	params.OrganizationID = ac.OrganizationID

	if h.db == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"events": []any{}, "count": 0})
		return
	}

	events, err := h.store.ListEvents(r.Context(), h.db, params)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing audit events", "error", err, "organization_id", ac.OrganizationID)
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	writeAuditJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

type paramError string

func (e paramError) Error() string { return string(e) }

func (h *Handler) parseListParams(r *http.Request) (ListEventsParams, error) {
	q := r.URL.Query()
	p := ListEventsParams{Limit: h.defaultLimit}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxListLimit {
			return p, paramError("limit must be between 1 and " + strconv.Itoa(MaxListLimit))
		}
		p.Limit = n
	}

	optional := func(key string) *string {
		if v := q.Get(key); v != "" {
			return &v
		}
		return nil
	}
	p.Action = optional("action")
	p.ResourceType = optional("resource_type")
	p.ResourceID = optional("resource_id")
	p.UserID = optional("user_id")

	for key, dst := range map[string]**time.Time{"after": &p.After, "before": &p.Before} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return p, paramError(key + " must be an RFC3339 timestamp")
		}
		*dst = &t
	}

	return p, nil
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

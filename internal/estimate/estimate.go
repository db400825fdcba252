// Package estimate stores insurance restoration estimates and serves the
// estimate routes whose access is decided per record by rbac.
package estimate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xtmate/xtmate/internal/rbac"
)

var (
	ErrNotFound     = errors.New("estimate not found")
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidValue = errors.New("invalid value")
)

// Estimate is a full estimate row.
type Estimate struct {
	ID                  string          `json:"id"`
	OrganizationID      string          `json:"organization_id"`
	OwnerID             string          `json:"owner_id"`
	AssignedPMID        string          `json:"assigned_pm_id,omitempty"`
	AssignedEstimatorID string          `json:"assigned_estimator_id,omitempty"`
	WorkflowStatus      string          `json:"workflow_status"`
	ClaimNumber         string          `json:"claim_number"`
	PolicyNumber        string          `json:"policy_number"`
	InsuredName         string          `json:"insured_name"`
	PropertyAddress     string          `json:"property_address"`
	CarrierName         string          `json:"carrier_name"`
	EstimatorNotes      string          `json:"estimator_notes"`
	PMNotes             string          `json:"pm_notes"`
	SiteAccessNotes     string          `json:"site_access_notes"`
	DamageDescription   string          `json:"damage_description"`
	CauseOfLoss         string          `json:"cause_of_loss"`
	OccupancyStatus     string          `json:"occupancy_status"`
	AffectedAreas       []string        `json:"affected_areas"`
	MoistureReadings    json.RawMessage `json:"moisture_readings"`
	PMMeasurements      json.RawMessage `json:"pm_measurements"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Record returns the access-relevant projection of e.
func (e *Estimate) Record() *rbac.EstimateRecord {
	return &rbac.EstimateRecord{
		ID:                  e.ID,
		OrganizationID:      e.OrganizationID,
		OwnerID:             e.OwnerID,
		AssignedPMID:        e.AssignedPMID,
		AssignedEstimatorID: e.AssignedEstimatorID,
		WorkflowStatus:      e.WorkflowStatus,
	}
}

type columnKind int

const (
	kindText columnKind = iota
	kindNullableText
	kindStatus
	kindTextArray
	kindJSONArray
	kindJSONObject
)

// updatableColumns is the whitelist of columns a PATCH may name. Keys are
// used verbatim in SQL.
var updatableColumns = map[string]columnKind{
	rbac.FieldAssignedPMID:        kindNullableText,
	rbac.FieldAssignedEstimatorID: kindNullableText,
	rbac.FieldWorkflowStatus:      kindStatus,
	"claim_number":                kindText,
	"policy_number":               kindText,
	"insured_name":                kindText,
	"property_address":            kindText,
	"carrier_name":                kindText,
	"estimator_notes":             kindText,
	rbac.FieldPMNotes:              kindText,
	rbac.FieldSiteAccessNotes:      kindText,
	rbac.FieldDamageDescription:    kindText,
	rbac.FieldCauseOfLoss:          kindText,
	rbac.FieldOccupancyStatus:      kindText,
	rbac.FieldAffectedAreas:        kindTextArray,
	rbac.FieldMoistureReadings:     kindJSONArray,
	rbac.FieldPMMeasurements:       kindJSONObject,
}

var workflowStatuses = map[string]struct{}{
	rbac.StatusDraft:          {},
	rbac.StatusPMAssigned:     {},
	rbac.StatusPMInProgress:   {},
	rbac.StatusPMCompleted:    {},
	rbac.StatusEstimating:     {},
	rbac.StatusReadyForReview: {},
	rbac.StatusApproved:       {},
	rbac.StatusSubmitted:      {},
	rbac.StatusClosed:         {},
}

// Fields returns every updatable field name, sorted.
func Fields() []string {
	out := make([]string, 0, len(updatableColumns))
	for f := range updatableColumns {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Update is a validated set of column values keyed by field name.
type Update map[string]any

// Fields returns the field names in u, sorted.
func (u Update) Fields() []string {
	out := make([]string, 0, len(u))
	for f := range u {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ParseUpdate validates a decoded JSON patch body. Unknown fields and values
// of the wrong shape are rejected before any access check runs.
func ParseUpdate(raw map[string]json.RawMessage) (Update, error) {
	u := make(Update, len(raw))
	for field, value := range raw {
		kind, ok := updatableColumns[field]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
		v, err := decodeValue(kind, value)
		if err != nil {
			return nil, fmt.Errorf("%w for %q: %v", ErrInvalidValue, field, err)
		}
		u[field] = v
	}
	return u, nil
}

func decodeValue(kind columnKind, value json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(value)
	isNull := bytes.Equal(trimmed, []byte("null"))

	switch kind {
	case kindText:
		if isNull {
			return nil, nil
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, errors.New("expected string")
		}
		return s, nil

	case kindNullableText:
		if isNull {
			return nil, nil
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, errors.New("expected string or null")
		}
		if s == "" {
			return nil, nil
		}
		return s, nil

	case kindStatus:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, errors.New("expected string")
		}
		if _, ok := workflowStatuses[s]; !ok {
			return nil, fmt.Errorf("unknown workflow status %q", s)
		}
		return s, nil

	case kindTextArray:
		if isNull {
			return []string{}, nil
		}
		var ss []string
		if err := json.Unmarshal(trimmed, &ss); err != nil {
			return nil, errors.New("expected array of strings")
		}
		if ss == nil {
			ss = []string{}
		}
		return ss, nil

	case kindJSONArray:
		if isNull {
			return json.RawMessage("[]"), nil
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, errors.New("expected array")
		}
		return json.RawMessage(trimmed), nil

	case kindJSONObject:
		if isNull {
			return json.RawMessage("{}"), nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, errors.New("expected object")
		}
		return json.RawMessage(trimmed), nil
	}
	return nil, errors.New("unsupported column")
}

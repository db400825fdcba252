package rbac

import (
	"encoding"
	"fmt"
	"sort"
)

// AccessLevel is the coarse classification of what a caller may do with a
// single estimate. Levels are ordered: None < ReadOnly < LimitedUpdate < Full.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessReadOnly
	AccessLimitedUpdate
	AccessFull
)

var accessLevelNames = map[AccessLevel]string{
	AccessNone:          "none",
	AccessReadOnly:      "read-only",
	AccessLimitedUpdate: "limited-update",
	AccessFull:          "full",
}

var (
	_ encoding.TextMarshaler   = AccessNone
	_ encoding.TextUnmarshaler = (*AccessLevel)(nil)
)

func (l AccessLevel) String() string {
	if name, ok := accessLevelNames[l]; ok {
		return name
	}
	return "none"
}

func (l AccessLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *AccessLevel) UnmarshalText(text []byte) error {
	for level, name := range accessLevelNames {
		if name == string(text) {
			*l = level
			return nil
		}
	}
	return fmt.Errorf("unknown access level %q", text)
}

// CanRead reports whether the level allows viewing the estimate.
func (l AccessLevel) CanRead() bool {
	return l >= AccessReadOnly
}

// Workflow statuses an estimate moves through.
const (
	StatusDraft          = "draft"
	StatusPMAssigned     = "pm_assigned"
	StatusPMInProgress   = "pm_in_progress"
	StatusPMCompleted    = "pm_completed"
	StatusEstimating     = "estimating"
	StatusReadyForReview = "ready_for_review"
	StatusApproved       = "approved"
	StatusSubmitted      = "submitted"
	StatusClosed         = "closed"
)

var pmActiveStatuses = map[string]struct{}{
	StatusPMAssigned:   {},
	StatusPMInProgress: {},
}

// IsPMActive reports whether status belongs to the project-manager capture
// phase.
func IsPMActive(status string) bool {
	_, ok := pmActiveStatuses[status]
	return ok
}

// EstimateRecord carries the fields of an estimate that access decisions
// depend on.
type EstimateRecord struct {
	ID                  string `json:"id"`
	OrganizationID      string `json:"organization_id"`
	OwnerID             string `json:"owner_id"`
	AssignedPMID        string `json:"assigned_pm_id,omitempty"`
	AssignedEstimatorID string `json:"assigned_estimator_id,omitempty"`
	WorkflowStatus      string `json:"workflow_status"`
}

// PM capture fields a limited-update holder may write.
const (
	FieldPMNotes           = "pm_notes"
	FieldSiteAccessNotes   = "site_access_notes"
	FieldDamageDescription = "damage_description"
	FieldCauseOfLoss       = "cause_of_loss"
	FieldOccupancyStatus   = "occupancy_status"
	FieldAffectedAreas     = "affected_areas"
	FieldMoistureReadings  = "moisture_readings"
	FieldPMMeasurements    = "pm_measurements"
)

var limitedUpdateFields = map[string]struct{}{
	FieldPMNotes:           {},
	FieldSiteAccessNotes:   {},
	FieldDamageDescription: {},
	FieldCauseOfLoss:       {},
	FieldOccupancyStatus:   {},
	FieldAffectedAreas:     {},
	FieldMoistureReadings:  {},
	FieldPMMeasurements:    {},
}

// LimitedUpdateFields returns the PM capture fields, sorted.
func LimitedUpdateFields() []string {
	out := make([]string, 0, len(limitedUpdateFields))
	for f := range limitedUpdateFields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// IsLimitedUpdateField reports whether field is a PM capture field.
func IsLimitedUpdateField(field string) bool {
	_, ok := limitedUpdateFields[field]
	return ok
}

// EstimateAccessLevel computes the caller's access to est. Rules are applied
// in order and the first match wins; anything ambiguous resolves to
// AccessNone.
func EstimateAccessLevel(ac *AuthContext, est *EstimateRecord) AccessLevel {
	if ac == nil || est == nil || !ac.Role.Valid() || ac.UserID == "" {
		return AccessNone
	}
	perms := ac.Permissions()

	if perms.Has(PermPlatformBypass) {
		return AccessFull
	}
	if est.OrganizationID == "" || est.OrganizationID != ac.OrganizationID {
		return AccessNone
	}
	if est.AssignedPMID == ac.UserID && IsPMActive(est.WorkflowStatus) {
		return AccessLimitedUpdate
	}
	if est.AssignedEstimatorID == ac.UserID || est.OwnerID == ac.UserID || perms.Has(PermEstimatesManage) {
		return AccessFull
	}
	if perms.Has(PermEstimatesRead) {
		return AccessReadOnly
	}
	return AccessNone
}

// CanPerformLimitedUpdate reports whether the caller may write field on est.
func CanPerformLimitedUpdate(ac *AuthContext, est *EstimateRecord, field string) bool {
	return canWriteField(EstimateAccessLevel(ac, est), field)
}

func canWriteField(level AccessLevel, field string) bool {
	switch level {
	case AccessFull:
		return true
	case AccessLimitedUpdate:
		return IsLimitedUpdateField(field)
	default:
		return false
	}
}

// CheckFieldUpdate validates a multi-field update as a unit: every field must
// be writable at level or the whole update is refused. The returned
// Rejection names the first offending field in sorted order.
func CheckFieldUpdate(level AccessLevel, fields []string) error {
	if len(fields) == 0 {
		return forbidden("empty update")
	}
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)
	for _, f := range sorted {
		if !canWriteField(level, f) {
			return forbidden(fmt.Sprintf("field %q not writable with %s access", f, level))
		}
	}
	return nil
}

// EditableFields lists the fields writable at level out of candidates.
func EditableFields(level AccessLevel, candidates []string) []string {
	var out []string
	for _, f := range candidates {
		if canWriteField(level, f) {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Estimate fields whose writes need a permission on top of the access level.
const (
	FieldAssignedPMID        = "assigned_pm_id"
	FieldAssignedEstimatorID = "assigned_estimator_id"
	FieldWorkflowStatus      = "workflow_status"
)

var fieldPermissions = map[string]Permission{
	FieldAssignedPMID:        PermEstimatesAssign,
	FieldAssignedEstimatorID: PermEstimatesAssign,
}

// FieldPermission returns the permission a write to field requires beyond
// the access level, if any.
func FieldPermission(field string) (Permission, bool) {
	p, ok := fieldPermissions[field]
	return p, ok
}

// CheckFieldPermissions refuses the whole update when the caller lacks the
// permission any one of fields requires.
func CheckFieldPermissions(ac *AuthContext, fields []string) error {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)
	for _, f := range sorted {
		if p, ok := fieldPermissions[f]; ok && !ac.Can(p) {
			return forbidden(fmt.Sprintf("field %q requires %s", f, p))
		}
	}
	return nil
}

// CheckStatusTransition gates workflow moves into or out of approved on
// estimates.approve. Other transitions are governed by the access level alone.
func CheckStatusTransition(ac *AuthContext, from, to string) error {
	if from == to {
		return nil
	}
	if (from == StatusApproved || to == StatusApproved) && !ac.Can(PermEstimatesApprove) {
		return forbidden(fmt.Sprintf("moving from %q to %q requires %s", from, to, PermEstimatesApprove))
	}
	return nil
}

// WritableFields is EditableFields narrowed to the fields whose extra
// permission ac holds.
func WritableFields(ac *AuthContext, level AccessLevel, candidates []string) []string {
	var out []string
	for _, f := range EditableFields(level, candidates) {
		if p, ok := fieldPermissions[f]; ok && !ac.Can(p) {
			continue
		}
		out = append(out, f)
	}
	return out
}

package estimate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/xtmate/xtmate/internal/platform/database"
	"github.com/xtmate/xtmate/internal/rbac"
)

const estimateColumns = `id::text, organization_id, owner_id,
	COALESCE(assigned_pm_id, ''), COALESCE(assigned_estimator_id, ''), workflow_status,
	COALESCE(claim_number, ''), COALESCE(policy_number, ''), COALESCE(insured_name, ''),
	COALESCE(property_address, ''), COALESCE(carrier_name, ''), COALESCE(estimator_notes, ''),
	COALESCE(pm_notes, ''), COALESCE(site_access_notes, ''), COALESCE(damage_description, ''),
	COALESCE(cause_of_loss, ''), COALESCE(occupancy_status, ''),
	affected_areas, moisture_readings, pm_measurements, created_at, updated_at`

// Store handles estimate queries.
type Store struct{}

// NewStore creates a new estimate store.
func NewStore() *Store {
	return &Store{}
}

func scanEstimate(row pgx.Row) (*Estimate, error) {
	var e Estimate
	var moisture, measurements []byte
	err := row.Scan(
		&e.ID, &e.OrganizationID, &e.OwnerID,
		&e.AssignedPMID, &e.AssignedEstimatorID, &e.WorkflowStatus,
		&e.ClaimNumber, &e.PolicyNumber, &e.InsuredName,
		&e.PropertyAddress, &e.CarrierName, &e.EstimatorNotes,
		&e.PMNotes, &e.SiteAccessNotes, &e.DamageDescription,
		&e.CauseOfLoss, &e.OccupancyStatus,
		&e.AffectedAreas, &moisture, &measurements, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.MoistureReadings = moisture
	e.PMMeasurements = measurements
	if e.AffectedAreas == nil {
		e.AffectedAreas = []string{}
	}
	return &e, nil
}

// NewEstimate holds the fixed attributes of an estimate being created.
type NewEstimate struct {
	OrganizationID string
	OwnerID        string
}

// Create inserts a draft estimate and applies any initial field values.
func (s *Store) Create(ctx context.Context, q database.Querier, ne NewEstimate, initial Update) (*Estimate, error) {
	var id string
	err := q.QueryRow(ctx,
		`INSERT INTO estimates (organization_id, owner_id, workflow_status)
		 VALUES ($1, $2, $3)
		 RETURNING id::text`,
		ne.OrganizationID, ne.OwnerID, rbac.StatusDraft,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating estimate: %w", err)
	}
	if len(initial) > 0 {
		return s.Update(ctx, q, id, initial)
	}
	return s.Get(ctx, q, id)
}

// Get returns one estimate by ID. IDs that are not UUIDs cannot name an
// estimate and report ErrNotFound.
func (s *Store) Get(ctx context.Context, q database.Querier, id string) (*Estimate, error) {
	return s.get(ctx, q, id, "")
}

// GetForUpdate is Get with a row lock; q must be a transaction.
func (s *Store) GetForUpdate(ctx context.Context, q database.Querier, id string) (*Estimate, error) {
	return s.get(ctx, q, id, " FOR UPDATE")
}

func (s *Store) get(ctx context.Context, q database.Querier, id, suffix string) (*Estimate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	e, err := scanEstimate(q.QueryRow(ctx,
		`SELECT `+estimateColumns+` FROM estimates WHERE id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting estimate: %w", err)
	}
	return e, nil
}

// Update writes u to the estimate and returns the updated row.
func (s *Store) Update(ctx context.Context, q database.Querier, id string, u Update) (*Estimate, error) {
	if len(u) == 0 {
		return nil, fmt.Errorf("%w: empty update", ErrInvalidValue)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	sql, args, err := buildUpdate(id, u)
	if err != nil {
		return nil, err
	}
	e, err := scanEstimate(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating estimate: %w", err)
	}
	return e, nil
}

// buildUpdate renders the UPDATE statement for u. Columns come from the
// whitelist only; values are always bound.
func buildUpdate(id string, u Update) (string, []any, error) {
	fields := u.Fields()
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	args = append(args, id)
	for _, f := range fields {
		if _, ok := updatableColumns[f]; !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
		}
		args = append(args, u[f])
		sets = append(sets, fmt.Sprintf("%s = $%d", f, len(args)))
	}
	sets = append(sets, "updated_at = now()")

	sql := `UPDATE estimates SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + estimateColumns
	return sql, args, nil
}

// RecordSource serves rbac estimate lookups from the database.
type RecordSource struct {
	db    database.Querier
	store *Store
}

func NewRecordSource(db database.Querier, store *Store) *RecordSource {
	return &RecordSource{db: db, store: store}
}

// GetEstimate implements rbac.EstimateStore.
func (rs *RecordSource) GetEstimate(ctx context.Context, estimateID string) (*rbac.EstimateRecord, error) {
	e, err := rs.store.Get(ctx, rs.db, estimateID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, rbac.ErrEstimateNotFound
		}
		return nil, err
	}
	return e.Record(), nil
}

var _ rbac.EstimateStore = (*RecordSource)(nil)

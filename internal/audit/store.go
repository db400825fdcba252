package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xtmate/xtmate/internal/platform/database"
)

// ErrMissingOrganization is returned when a query or event has no organization.
var ErrMissingOrganization = errors.New("organization id is required")

// MaxListLimit caps a single page of audit events.
const MaxListLimit = 200

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// buildBatchInsert constructs a multi-row INSERT statement.
func buildBatchInsert(events []Event) (string, []any, error) {
	const cols = "(organization_id, user_id, action, resource_type, resource_id, metadata, source, created_at)"
	const width = 8
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*width)

	for i, e := range events {
		if e.OrganizationID == "" {
			return "", nil, fmt.Errorf("event %d (%s): %w", i, e.Action, ErrMissingOrganization)
		}
		base := i * width
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))

		var metaJSON []byte
		if e.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling metadata: %w", err)
			}
		}

		source := e.Source
		if source == "" {
			source = SourceAPI
		}

		occurred := e.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now()
		}

		args = append(args, e.OrganizationID, nullable(e.UserID), e.Action,
			nullable(e.ResourceType), nullable(e.ResourceID), metaJSON, source, occurred.UTC())
	}

	sql := fmt.Sprintf("INSERT INTO audit_events %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args, nil
}

// ListEventsParams defines filters for querying audit events.
type ListEventsParams struct {
	OrganizationID string
	Action         *string
	ResourceType   *string
	ResourceID     *string
	UserID         *string
	After          *time.Time
	Before         *time.Time
	Limit          int
}

// ListEvents returns events for one organization, newest first.
func (s *Store) ListEvents(ctx context.Context, db database.Querier, p ListEventsParams) ([]StoredEvent, error) {
	if p.OrganizationID == "" {
		return nil, ErrMissingOrganization
	}
	if p.Limit <= 0 || p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}

	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	events := []StoredEvent{}
	for rows.Next() {
		var (
			e        StoredEvent
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.UserID, &e.Action, &e.ResourceType,
			&e.ResourceID, &metadata, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding audit metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}

// buildListQuery constructs a parameterized SELECT for audit events.
func buildListQuery(p ListEventsParams) (string, []any) {
	var conditions []string
	var args []any

	add := func(clause string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	add("organization_id = $%d", p.OrganizationID)
	if p.Action != nil {
		add("action = $%d", *p.Action)
	}
	if p.ResourceType != nil {
		add("resource_type = $%d", *p.ResourceType)
	}
	if p.ResourceID != nil {
		add("resource_id = $%d", *p.ResourceID)
	}
	if p.UserID != nil {
		add("user_id = $%d", *p.UserID)
	}
	if p.After != nil {
		add("created_at > $%d", *p.After)
	}
	if p.Before != nil {
		add("created_at < $%d", *p.Before)
	}

	args = append(args, p.Limit)
	sql := fmt.Sprintf(
		`SELECT id::text, organization_id, user_id, action, resource_type, resource_id, metadata, source, created_at
		FROM audit_events
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`,
		strings.Join(conditions, " AND "), len(args),
	)

	return sql, args
}

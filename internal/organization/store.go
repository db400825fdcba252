package organization

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xtmate/xtmate/internal/platform/database"
	"github.com/xtmate/xtmate/internal/rbac"
)

const memberColumns = `organization_id, user_id, email, display_name, role, grants, created_at, updated_at`

// Store handles organization membership queries.
type Store struct{}

// NewStore creates a new membership store.
func NewStore() *Store {
	return &Store{}
}

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	var role string
	if err := row.Scan(&m.OrganizationID, &m.UserID, &m.Email, &m.DisplayName, &role, &m.Grants, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Role = rbac.Role(role)
	if m.Grants == nil {
		m.Grants = []string{}
	}
	return &m, nil
}

// GetMember returns one membership.
func (s *Store) GetMember(ctx context.Context, q database.Querier, orgID, userID string) (*Member, error) {
	return s.getMember(ctx, q, orgID, userID, "")
}

// GetMemberForUpdate is GetMember with a row lock; q must be a transaction.
func (s *Store) GetMemberForUpdate(ctx context.Context, q database.Querier, orgID, userID string) (*Member, error) {
	return s.getMember(ctx, q, orgID, userID, " FOR UPDATE")
}

func (s *Store) getMember(ctx context.Context, q database.Querier, orgID, userID, suffix string) (*Member, error) {
	m, err := scanMember(q.QueryRow(ctx,
		`SELECT `+memberColumns+`
		 FROM organization_members
		 WHERE organization_id = $1 AND user_id = $2`+suffix,
		orgID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("getting member: %w", err)
	}
	return m, nil
}

// ListMembers returns the organization's members ordered by display name.
func (s *Store) ListMembers(ctx context.Context, q database.Querier, orgID string) ([]Member, error) {
	rows, err := q.Query(ctx,
		`SELECT `+memberColumns+`
		 FROM organization_members
		 WHERE organization_id = $1
		 ORDER BY display_name, user_id`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// SetRole overwrites a member's role.
func (s *Store) SetRole(ctx context.Context, q database.Querier, orgID, userID string, role rbac.Role) (*Member, error) {
	m, err := scanMember(q.QueryRow(ctx,
		`UPDATE organization_members
		 SET role = $3, updated_at = now()
		 WHERE organization_id = $1 AND user_id = $2
		 RETURNING `+memberColumns,
		orgID, userID, string(role),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("setting role: %w", err)
	}
	return m, nil
}

// MembershipSource serves rbac membership lookups from the database.
type MembershipSource struct {
	db    database.Querier
	store *Store
}

func NewMembershipSource(db database.Querier, store *Store) *MembershipSource {
	return &MembershipSource{db: db, store: store}
}

// GetMembership implements rbac.MembershipStore.
func (m *MembershipSource) GetMembership(ctx context.Context, orgID, userID string) (*rbac.Membership, error) {
	member, err := m.store.GetMember(ctx, m.db, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, rbac.ErrMembershipNotFound
		}
		return nil, err
	}
	return &rbac.Membership{
		UserID:         member.UserID,
		OrganizationID: member.OrganizationID,
		Role:           string(member.Role),
		Grants:         member.Grants,
	}, nil
}

var _ rbac.MembershipStore = (*MembershipSource)(nil)

// Package testutil starts throwaway Postgres containers with the schema
// applied. Callers skip under -short before using it.
package testutil

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/xtmate/xtmate/internal/platform/database"
	"github.com/xtmate/xtmate/migrations"
)

// StartPostgres runs an empty Postgres container and returns its URL. The
// container is terminated via t.Cleanup.
func StartPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("xtmate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// NewPool starts Postgres, applies every migration and returns a pool.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connStr := StartPostgres(t)
	require.NoError(t, database.RunMigrations(connStr, migrations.FS))

	pool, err := database.Connect(context.Background(), database.PoolConfig{URL: connStr, MaxConns: 5})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// SeedOrganization inserts an organization row.
func SeedOrganization(t *testing.T, pool *pgxpool.Pool, id, name string) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		"INSERT INTO organizations (id, name) VALUES ($1, $2)", id, name)
	require.NoError(t, err)
}

// SeedMember inserts an organization membership.
func SeedMember(t *testing.T, pool *pgxpool.Pool, orgID, userID, role string, grants ...string) {
	t.Helper()
	if grants == nil {
		grants = []string{}
	}
	_, err := pool.Exec(context.Background(),
		`INSERT INTO organization_members (organization_id, user_id, email, display_name, role, grants)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		orgID, userID, userID+"@example.com", userID, role, grants)
	require.NoError(t, err)
}

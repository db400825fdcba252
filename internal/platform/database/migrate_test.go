package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtmate/xtmate/internal/platform/database"
	"github.com/xtmate/xtmate/internal/testutil"
	"github.com/xtmate/xtmate/migrations"
)

func TestRunMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	connStr := testutil.StartPostgres(t)
	require.NoError(t, database.RunMigrations(connStr, migrations.FS))
	// Second run is a no-op.
	require.NoError(t, database.RunMigrations(connStr, migrations.FS))

	pool, err := database.Connect(context.Background(), database.PoolConfig{URL: connStr, MaxConns: 5})
	require.NoError(t, err)
	defer pool.Close()

	for _, table := range []string{"organizations", "organization_members", "estimates", "audit_events"} {
		var name string
		err := pool.QueryRow(context.Background(),
			"SELECT table_name FROM information_schema.tables WHERE table_name = $1", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	_, err = pool.Exec(context.Background(), "INSERT INTO organizations (id, name) VALUES ('org_a', 'A')")
	require.NoError(t, err)
	_, err = pool.Exec(context.Background(),
		"INSERT INTO organization_members (organization_id, user_id, role) VALUES ('org_a', 'u1', 'owner')")
	assert.Error(t, err, "role check constraint rejects unregistered roles")
}

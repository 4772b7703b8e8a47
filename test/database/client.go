// Package database provides database clients for integration tests.
package database

import (
	"context"
	stdsql "database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jarvislabs/jarvisd/pkg/database"
	"github.com/jarvislabs/jarvisd/test/util"
)

// NewTestClient creates a database client bound to a fresh schema in the
// shared test database. Migrations run inside the schema, the same code path
// production tenants take. The schema is dropped when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	baseCfg := util.BaseConfig(t)
	schemaName := util.GenerateSchemaName(t)

	// Create the schema on an admin connection.
	admin, err := stdsql.Open("pgx", baseCfg.DSN())
	require.NoError(t, err)
	require.NoError(t, database.EnsureSchema(ctx, admin, schemaName))
	t.Logf("Created test schema: %s", schemaName)

	client, err := database.NewClient(ctx, baseCfg.WithSchema(schemaName))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		if err := database.DropSchema(context.Background(), admin, schemaName); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schemaName, err)
		}
		_ = admin.Close()
	})

	return client
}

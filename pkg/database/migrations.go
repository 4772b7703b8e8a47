package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"regexp"
)

// Schema names come from the X-Test-Worker header; reject anything that is
// not a plain identifier before it reaches DDL.
var schemaNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidSchemaName reports whether name is safe to use as a Postgres schema name.
func ValidSchemaName(name string) bool {
	return schemaNamePattern.MatchString(name)
}

// EnsureSchema creates the tenant schema if it does not exist yet.
// Runs on the admin (default-schema) connection before the per-tenant
// client is opened.
func EnsureSchema(ctx context.Context, db *stdsql.DB, schema string) error {
	if !ValidSchemaName(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

// DropSchema removes a tenant schema and everything in it. Test cleanup only.
func DropSchema(ctx context.Context, db *stdsql.DB, schema string) error {
	if !ValidSchemaName(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schema)); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", schema, err)
	}
	return nil
}

package testutil

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/migrations"
	"github.com/davidmoltin/ai-action-queue/pkg/database"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// RunMigrations applies the embedded schema to db
func RunMigrations(t *testing.T, db *TestDB) {
	t.Helper()
	require.NoError(t, database.Migrate(db.DB, migrations.Files, logger.NewNop()), "Failed to run migrations")
}

// MigrateDown rolls back every embedded migration
func MigrateDown(t *testing.T, db *TestDB) {
	t.Helper()

	source, err := iofs.New(migrations.Files, ".")
	require.NoError(t, err)

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	require.NoError(t, err)

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	require.NoError(t, err)

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err, "Failed to roll back migrations")
	}
}

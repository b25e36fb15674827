package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDB is a throwaway PostgreSQL instance running in a container
type TestDB struct {
	Pool      *pgxpool.Pool
	DB        *sql.DB
	DSN       string
	container *tcpostgres.PostgresContainer
	t         *testing.T
}

// SetupTestDB starts a PostgreSQL container and applies every migration.
// It skips the test under -short. The container is removed when the test ends.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("aiq_test"),
		tcpostgres.WithUsername("aiq"),
		tcpostgres.WithPassword("aiq"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "Failed to connect to test database")

	// repositories take a *sql.DB
	config, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err, "Failed to parse connection string")
	stdDB := stdlib.OpenDB(*config.ConnConfig)

	db := &TestDB{
		Pool:      pool,
		DB:        stdDB,
		DSN:       dsn,
		container: container,
		t:         t,
	}
	t.Cleanup(db.Teardown)

	RunMigrations(t, db)
	return db
}

// Teardown closes connections and removes the container
func (db *TestDB) Teardown() {
	if db.DB != nil {
		db.DB.Close()
	}
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.container != nil {
		if err := db.container.Terminate(context.Background()); err != nil {
			db.t.Logf("Failed to terminate postgres container: %v", err)
		}
	}
}

// Truncate empties the given tables
func (db *TestDB) Truncate(tables ...string) {
	db.t.Helper()
	ctx := context.Background()

	for _, table := range tables {
		_, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(db.t, err, "Failed to truncate table %s", table)
	}
}

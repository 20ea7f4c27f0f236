package testing

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vvka-141/mailq/internal/db"
	"github.com/vvka-141/mailq/internal/testinfra"
)

// TestConnEnv names the variable that points integration tests at an existing server.
const TestConnEnv = "MAILQ_TEST_CONN"

var (
	testContainerOnce sync.Once
	testContainerConn string
	testContainerErr  error
)

func getOrStartTestContainer() (string, error) {
	testContainerOnce.Do(func() {
		ctx := context.Background()
		container, err := testinfra.StartPostgres(ctx)
		if err != nil {
			testContainerErr = err
			return
		}
		testContainerConn = container.ConnString
	})
	return testContainerConn, testContainerErr
}

// GetTestConnectionString returns the test database connection string.
// Priority: MAILQ_TEST_CONN env var > auto-started testcontainer > skip test.
func GetTestConnectionString(t *testing.T) string {
	t.Helper()

	if connString := os.Getenv(TestConnEnv); connString != "" {
		return connString
	}

	connString, err := getOrStartTestContainer()
	if err != nil {
		t.Skipf("%s not set and Docker unavailable: %v", TestConnEnv, err)
	}
	return connString
}

// SkipIfShort skips the test if running in short mode (-short flag).
func SkipIfShort(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// RequireDatabase combines SkipIfShort and GetTestConnectionString for convenience.
// Returns the test connection string if available, otherwise skips the test.
func RequireDatabase(t *testing.T) string {
	t.Helper()

	SkipIfShort(t)
	return GetTestConnectionString(t)
}

// NewTestDatabase creates a uniquely named database on the test server and
// returns a pool connected to it. The database is dropped when the test ends.
func NewTestDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := RequireDatabase(t)
	dbName := "mailq_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	ctx := context.Background()
	admin, err := pgxpool.New(ctx, connString)
	if err != nil {
		t.Fatalf("Failed to connect for test DB creation: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		admin.Close()
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}
	admin.Close()

	pool, err := connectTo(ctx, connString, dbName)
	if err != nil {
		CleanupTestDB(t, connString, dbName)
		t.Fatalf("Failed to connect to test database %s: %v", dbName, err)
	}

	t.Cleanup(func() {
		pool.Close()
		CleanupTestDB(t, connString, dbName)
	})
	return pool
}

// CleanupTestDB drops the test database.
// Safe to call multiple times (uses DROP DATABASE IF EXISTS).
func CleanupTestDB(t *testing.T, connString, dbName string) {
	t.Helper()

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		t.Logf("Warning: Failed to connect for cleanup: %v", err)
		return
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`, dbName)
	if err != nil {
		t.Logf("Warning: Failed to terminate connections to %s: %v", dbName, err)
	}

	if _, err = pool.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		t.Logf("Warning: Failed to drop database %s: %v", dbName, err)
	}
}

func connectTo(ctx context.Context, connString, dbName string) (*pgxpool.Pool, error) {
	config, err := db.ParseConnectionString(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	config.Database = dbName
	return pgxpool.New(ctx, db.BuildConnectionString(config))
}

package manager

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vvka-141/mailq/pkg/mailq"
)

const queryDatabaseExists = "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)"

// Manager provisions the queue database using the DBConnection abstraction.
type Manager struct{}

var _ mailq.DatabaseManager = (*Manager)(nil)

// New creates a new Manager.
func New() *Manager {
	return &Manager{}
}

// Exists checks if a database exists.
func (m *Manager) Exists(ctx context.Context, conn mailq.DBConnection, dbName string) (bool, error) {
	var exists bool
	if err := conn.QueryRow(ctx, queryDatabaseExists, dbName).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	return exists, nil
}

// Create creates a new database. CREATE DATABASE cannot run inside a
// transaction, so it is issued on a dedicated connection.
func (m *Manager) Create(ctx context.Context, conn mailq.DBConnection, dbName string) error {
	pooledConn, err := conn.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer pooledConn.Release()

	query := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{dbName}.Sanitize())
	if _, err := pooledConn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create database %q: %w", dbName, err)
	}
	return nil
}

// EnsureDatabase creates dbName unless it already exists. It reports
// whether the database was created.
func EnsureDatabase(ctx context.Context, mgr mailq.DatabaseManager, conn mailq.DBConnection, dbName string) (bool, error) {
	exists, err := mgr.Exists(ctx, conn, dbName)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := mgr.Create(ctx, conn, dbName); err != nil {
		return false, err
	}
	return true, nil
}

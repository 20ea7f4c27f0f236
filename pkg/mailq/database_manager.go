package mailq

import (
	"context"
)

// DatabaseManager defines the interface for database management operations
// used when provisioning the queue database.
// Implementations are NOT safe for concurrent use.
type DatabaseManager interface {
	// Exists checks if a database exists.
	Exists(ctx context.Context, conn DBConnection, dbName string) (bool, error)

	// Create creates a new database.
	Create(ctx context.Context, conn DBConnection, dbName string) error
}

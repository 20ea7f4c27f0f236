package testinfra

import (
	"context"
	"fmt"
	"os"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// ImageEnv overrides the Postgres image used by integration tests.
const ImageEnv = "MAILQ_TEST_POSTGRES_IMAGE"

const (
	DefaultPostgresImage = "postgres:17-alpine"
	PostgresUser         = "mailq"
	PostgresPassword     = "mailq"
	PostgresDB           = "mailq"
)

// PostgresContainer is a disposable queue database for integration tests.
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnString string
}

// StartPostgres launches Postgres and waits until it accepts connections.
// The caller owns termination.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	image := os.Getenv(ImageEnv)
	if image == "" {
		image = DefaultPostgresImage
	}

	ctr, err := postgres.Run(ctx, image,
		postgres.WithUsername(PostgresUser),
		postgres.WithPassword(PostgresPassword),
		postgres.WithDatabase(PostgresDB),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", image, err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return nil, fmt.Errorf("queue database connection string: %w", err)
	}
	return &PostgresContainer{PostgresContainer: ctr, ConnString: connStr}, nil
}

package db

import (
	"context"
	"fmt"
	"net"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// GoogleCloudSQLConnector connects to Cloud SQL with IAM database
// authentication through the Cloud SQL Go connector.
//
// Close must be called after the returned pool is closed to release the dialer.
type GoogleCloudSQLConnector struct {
	config *mailq.ConnectionConfig
	logger mailq.Logger
	dialer *cloudsqlconn.Dialer
}

var _ mailq.Connector = (*GoogleCloudSQLConnector)(nil)

// NewGoogleCloudSQLConnector uses config.GoogleInstance (project:region:instance).
func NewGoogleCloudSQLConnector(config *mailq.ConnectionConfig, logger mailq.Logger) *GoogleCloudSQLConnector {
	return &GoogleCloudSQLConnector{config: config, logger: logger}
}

func (c *GoogleCloudSQLConnector) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		return nil, fmt.Errorf("%w: create Cloud SQL dialer: %w", mailq.ErrConnectionFailed, err)
	}

	dsn := fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable",
		c.config.GoogleInstance, c.config.Username, c.config.Database)
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		dialer.Close()
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	instance := c.config.GoogleInstance
	poolConfig.ConnConfig.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return dialer.Dial(ctx, instance)
	}
	configurePool(poolConfig, c.logger)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		dialer.Close()
		return nil, fmt.Errorf("%w: %w", mailq.ErrConnectionFailed, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		dialer.Close()
		return nil, fmt.Errorf("%w: ping Cloud SQL instance %s: %w", mailq.ErrConnectionFailed, instance, err)
	}

	c.dialer = dialer
	return pool, nil
}

// Close releases the Cloud SQL dialer.
func (c *GoogleCloudSQLConnector) Close() error {
	if c.dialer != nil {
		c.dialer.Close()
		c.dialer = nil
	}
	return nil
}

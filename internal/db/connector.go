package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/mailq/internal/retry"
	"github.com/vvka-141/mailq/pkg/mailq"
)

// Pool sizing for a long-running queue worker. The scheduler holds at most one
// connection at a time; the rest serve producers and the metrics probe.
const (
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultMaxConnIdleTime   = 5 * time.Minute
	DefaultHealthCheckPeriod = time.Minute
)

func configurePool(poolConfig *pgxpool.Config, logger mailq.Logger) {
	poolConfig.MaxConns = DefaultMaxConns
	poolConfig.MinConns = DefaultMinConns
	poolConfig.MaxConnIdleTime = DefaultMaxConnIdleTime
	poolConfig.HealthCheckPeriod = DefaultHealthCheckPeriod
	poolConfig.ConnConfig.OnNotice = func(_ *pgconn.PgConn, notice *pgconn.Notice) {
		logger.Verbose("[postgres] %s: %s", notice.Severity, notice.Message)
	}
}

// PasswordSource supplies the password used for the next connection attempt.
// Cloud providers implement it with short-lived tokens.
type PasswordSource interface {
	Password(ctx context.Context) (string, time.Time, error)
	String() string
}

// StandardConnector opens a pgx pool with automatic retry on transient
// failures. With a PasswordSource it fetches a fresh password (token) for
// every attempt.
type StandardConnector struct {
	config        *mailq.ConnectionConfig
	passwords     PasswordSource
	logger        mailq.Logger
	retryExecutor *retry.Executor
}

var _ mailq.Connector = (*StandardConnector)(nil)

// NewStandardConnector creates a connector using the mailq connection retry
// defaults: DefaultRetryMaxAttempts attempts with exponential backoff from
// DefaultRetryInitialDelay up to DefaultRetryMaxDelay.
func NewStandardConnector(config *mailq.ConnectionConfig, logger mailq.Logger) *StandardConnector {
	if config == nil {
		panic("config cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	strategy := retry.NewExponentialBackoff(mailq.DefaultRetryMaxAttempts,
		retry.WithInitialDelay(mailq.DefaultRetryInitialDelay),
		retry.WithMaxDelay(mailq.DefaultRetryMaxDelay),
	)
	executor := retry.NewExecutor(retry.NewPostgreSQLErrorClassifier(), strategy).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Warn("database connection attempt %d failed, retrying in %v: %v", attempt, delay, err)
		})

	return &StandardConnector{
		config:        config,
		logger:        logger,
		retryExecutor: executor,
	}
}

// WithPasswordSource returns a copy of c that asks src for the password.
func (c *StandardConnector) WithPasswordSource(src PasswordSource) *StandardConnector {
	clone := *c
	clone.passwords = src
	return &clone
}

func (c *StandardConnector) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool

	err := c.retryExecutor.Execute(ctx, func(ctx context.Context) error {
		cfg := *c.config
		if c.passwords != nil {
			password, expiresOn, err := c.passwords.Password(ctx)
			if err != nil {
				return fmt.Errorf("acquire %s credentials: %w", c.passwords, err)
			}
			if remaining := time.Until(expiresOn); remaining < 5*time.Minute {
				c.logger.Warn("%s token expires in %v", c.passwords, remaining.Round(time.Second))
			}
			cfg.Password = password
		}

		poolConfig, err := pgxpool.ParseConfig(BuildConnectionString(&cfg))
		if err != nil {
			return fmt.Errorf("failed to parse connection config: %w", err)
		}
		configurePool(poolConfig, c.logger)

		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return wrapConnectionError(err, cfg.Host, cfg.Port, cfg.Database)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return wrapConnectionError(err, cfg.Host, cfg.Port, cfg.Database)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// NewConnector picks the connector for config.AuthMethod.
func NewConnector(config *mailq.ConnectionConfig, logger mailq.Logger) (mailq.Connector, error) {
	switch config.AuthMethod {
	case mailq.AuthMethodStandard, mailq.AuthMethodCertificate:
		return NewStandardConnector(config, logger), nil
	case mailq.AuthMethodAWSIAM:
		src, err := NewAWSIAMPasswordSource(fmt.Sprintf("%s:%d", config.Host, config.Port), config.AWSRegion, config.Username)
		if err != nil {
			return nil, err
		}
		return NewStandardConnector(config, logger).WithPasswordSource(src), nil
	case mailq.AuthMethodAzureEntraID:
		src, err := NewAzurePasswordSource(config.AzureTenantID, config.AzureClientID, config.AzureClientSecret)
		if err != nil {
			return nil, err
		}
		return NewStandardConnector(config, logger).WithPasswordSource(src), nil
	case mailq.AuthMethodGoogleIAM:
		if config.GoogleInstance == "" {
			return nil, fmt.Errorf("Google Cloud SQL IAM auth requires --google-instance (project:region:instance): %w", mailq.ErrInvalidConfig)
		}
		if config.Username == "" {
			return nil, fmt.Errorf("Google Cloud SQL IAM auth requires username (-U): %w", mailq.ErrInvalidConfig)
		}
		return NewGoogleCloudSQLConnector(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported auth method %v: %w", config.AuthMethod, mailq.ErrUnsupportedAuthMethod)
	}
}

// wrapConnectionError adds operator guidance to raw pgx connection errors.
// The result always wraps mailq.ErrConnectionFailed and the original error.
func wrapConnectionError(err error, host string, port int, database string) error {
	msg := strings.ToLower(err.Error())
	addr := fmt.Sprintf("%s:%d", host, port)

	var hint string
	switch {
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "actively refused"):
		hint = fmt.Sprintf("connection refused to %s\n\nIs PostgreSQL running? Check: pg_isready -h %s -p %d", addr, host, port)
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "no host"):
		hint = fmt.Sprintf("cannot resolve host %q\n\nCheck the hostname and DNS configuration", host)
	case strings.Contains(msg, "password authentication failed"):
		hint = fmt.Sprintf("password authentication failed for database %q\n\nCheck $PGPASSWORD, ~/.pgpass or the connection string", database)
	case strings.Contains(msg, "does not exist"):
		hint = fmt.Sprintf("database %q does not exist\n\nCreate it with: mailq init", database)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		hint = fmt.Sprintf("connection timed out to %s\n\nThe server may be overloaded or a firewall may be dropping packets", addr)
	case strings.Contains(msg, "ssl") || strings.Contains(msg, "tls"):
		hint = "SSL/TLS connection error\n\nCheck --sslmode and the client certificate flags (--sslcert, --sslkey, --sslrootcert)"
	case strings.Contains(msg, "too many connections"):
		hint = fmt.Sprintf("too many connections to database %q\n\nThe server max_connections limit has been reached", database)
	default:
		return fmt.Errorf("%w: %w", mailq.ErrConnectionFailed, err)
	}
	return fmt.Errorf("%w: %s\n\nOriginal error: %w", mailq.ErrConnectionFailed, hint, err)
}

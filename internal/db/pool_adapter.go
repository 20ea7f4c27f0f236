package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// PoolAdapter adapts *pgxpool.Pool to the mailq.DBConnection interface so
// the store and manager never see pgx pool types.
//
// Thread-Safety: Safe for concurrent use (pgxpool.Pool is thread-safe).
type PoolAdapter struct {
	pool *pgxpool.Pool
}

var _ mailq.DBConnection = (*PoolAdapter)(nil)

// NewPoolAdapter creates a new PoolAdapter wrapping the given pool.
func NewPoolAdapter(pool *pgxpool.Pool) *PoolAdapter {
	return &PoolAdapter{pool: pool}
}

func (p *PoolAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}

// Query runs sql and returns the rows; pgx.Rows already satisfies mailq.Rows.
func (p *PoolAdapter) Query(ctx context.Context, sql string, args ...any) (mailq.Rows, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rowsAdapter{rows}, nil
}

func (p *PoolAdapter) QueryRow(ctx context.Context, sql string, args ...any) mailq.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *PoolAdapter) Acquire(ctx context.Context) (mailq.PooledConnection, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// rowsAdapter narrows pgx.Rows to mailq.Rows.
type rowsAdapter struct {
	rows pgx.Rows
}

func (r rowsAdapter) Next() bool             { return r.rows.Next() }
func (r rowsAdapter) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r rowsAdapter) Err() error             { return r.rows.Err() }
func (r rowsAdapter) Close()                 { r.rows.Close() }

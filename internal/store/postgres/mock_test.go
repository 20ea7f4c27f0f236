package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vvka-141/mailq/pkg/mailq"
)

type execCall struct {
	sql  string
	args []any
}

// mockConn is a test double for mailq.DBConnection.
type mockConn struct {
	execFunc     func(sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFunc func(sql string, args ...any) mailq.Row
	queryFunc    func(sql string, args ...any) (mailq.Rows, error)

	execs []execCall
}

func (m *mockConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	if m.execFunc != nil {
		return m.execFunc(sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (m *mockConn) Query(ctx context.Context, sql string, args ...any) (mailq.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockConn) QueryRow(ctx context.Context, sql string, args ...any) mailq.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(sql, args...)
	}
	return &mockRow{}
}

func (m *mockConn) Acquire(ctx context.Context) (mailq.PooledConnection, error) {
	return nil, errors.New("not used")
}

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.scanFunc != nil {
		return m.scanFunc(dest...)
	}
	return nil
}

// mockRows yields one Scan call per element of rows.
type mockRows struct {
	rows   []func(dest ...any) error
	pos    int
	err    error
	closed bool
}

func (m *mockRows) Next() bool {
	if m.pos >= len(m.rows) {
		return false
	}
	m.pos++
	return true
}

func (m *mockRows) Scan(dest ...any) error { return m.rows[m.pos-1](dest...) }
func (m *mockRows) Err() error             { return m.err }
func (m *mockRows) Close()                 { m.closed = true }

func tag(s string) func(string, ...any) (pgconn.CommandTag, error) {
	return func(string, ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag(s), nil
	}
}

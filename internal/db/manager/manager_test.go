package manager_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/mailq/internal/db/manager"
	"github.com/vvka-141/mailq/pkg/mailq"
)

// mockDBConnection is a test double for mailq.DBConnection
type mockDBConnection struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) mailq.Row
	acquireFunc  func(ctx context.Context) (mailq.PooledConnection, error)
}

func (m *mockDBConnection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockDBConnection) Query(ctx context.Context, sql string, args ...any) (mailq.Rows, error) {
	return nil, errors.New("not used")
}

func (m *mockDBConnection) QueryRow(ctx context.Context, sql string, args ...any) mailq.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{}
}

func (m *mockDBConnection) Acquire(ctx context.Context) (mailq.PooledConnection, error) {
	if m.acquireFunc != nil {
		return m.acquireFunc(ctx)
	}
	return &mockPooledConnection{}, nil
}

// mockRow is a test double for mailq.Row
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.scanFunc != nil {
		return m.scanFunc(dest...)
	}
	return nil
}

// mockPooledConnection is a test double for mailq.PooledConnection
type mockPooledConnection struct {
	execFunc func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	released bool
}

func (m *mockPooledConnection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockPooledConnection) Release() {
	m.released = true
}

func existsRow(exists bool, err error) func(ctx context.Context, sql string, args ...any) mailq.Row {
	return func(ctx context.Context, sql string, args ...any) mailq.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			if err != nil {
				return err
			}
			*dest[0].(*bool) = exists
			return nil
		}}
	}
}

func TestManager_Create_QuotesIdentifier(t *testing.T) {
	testCases := []struct {
		name   string
		dbName string
		want   string
	}{
		{"plain", "mailq", `CREATE DATABASE "mailq"`},
		{"spaces", "my database", `CREATE DATABASE "my database"`},
		{"quotes", `my"database`, `CREATE DATABASE "my""database"`},
		{"injection", "x; DROP DATABASE postgres; --", `CREATE DATABASE "x; DROP DATABASE postgres; --"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var executedSQL string
			pooled := &mockPooledConnection{
				execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					executedSQL = sql
					return pgconn.CommandTag{}, nil
				},
			}
			conn := &mockDBConnection{
				acquireFunc: func(ctx context.Context) (mailq.PooledConnection, error) { return pooled, nil },
			}

			require.NoError(t, manager.New().Create(context.Background(), conn, tc.dbName))
			assert.Equal(t, tc.want, executedSQL)
			assert.True(t, pooled.released)
		})
	}
}

func TestManager_Create_Failures(t *testing.T) {
	acquireErr := errors.New("pool exhausted")
	conn := &mockDBConnection{
		acquireFunc: func(ctx context.Context) (mailq.PooledConnection, error) { return nil, acquireErr },
	}
	err := manager.New().Create(context.Background(), conn, "mailq")
	assert.ErrorIs(t, err, acquireErr)

	execErr := errors.New(`permission denied to create database`)
	pooled := &mockPooledConnection{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, execErr
		},
	}
	conn = &mockDBConnection{
		acquireFunc: func(ctx context.Context) (mailq.PooledConnection, error) { return pooled, nil },
	}
	err = manager.New().Create(context.Background(), conn, "mailq")
	assert.ErrorIs(t, err, execErr)
	assert.True(t, strings.Contains(err.Error(), `"mailq"`))
	assert.True(t, pooled.released)
}

func TestManager_Exists(t *testing.T) {
	mgr := manager.New()

	exists, err := mgr.Exists(context.Background(), &mockDBConnection{queryRowFunc: existsRow(true, nil)}, "mydb")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = mgr.Exists(context.Background(), &mockDBConnection{queryRowFunc: existsRow(false, nil)}, "mydb")
	require.NoError(t, err)
	assert.False(t, exists)

	lost := errors.New("connection lost")
	_, err = mgr.Exists(context.Background(), &mockDBConnection{queryRowFunc: existsRow(false, lost)}, "mydb")
	assert.ErrorIs(t, err, lost)
}

func TestEnsureDatabase(t *testing.T) {
	created := false
	pooled := &mockPooledConnection{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			created = true
			return pgconn.CommandTag{}, nil
		},
	}
	acquire := func(ctx context.Context) (mailq.PooledConnection, error) { return pooled, nil }

	ok, err := manager.EnsureDatabase(context.Background(), manager.New(),
		&mockDBConnection{queryRowFunc: existsRow(true, nil), acquireFunc: acquire}, "mailq")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, created)

	ok, err = manager.EnsureDatabase(context.Background(), manager.New(),
		&mockDBConnection{queryRowFunc: existsRow(false, nil), acquireFunc: acquire}, "mailq")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, created)
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/mailq/pkg/mailq"
)

func TestNewStore_PanicsOnNilConn(t *testing.T) {
	assert.Panics(t, func() { NewStore(nil) })
	assert.Panics(t, func() { NewResolver(nil) })
}

func TestEnsureSchema(t *testing.T) {
	conn := &mockConn{}
	require.NoError(t, EnsureSchema(context.Background(), conn))
	require.Len(t, conn.execs, 1)
	assert.Contains(t, conn.execs[0].sql, "CREATE TABLE IF NOT EXISTS mailq_entry")
	assert.Contains(t, conn.execs[0].sql, "CREATE TABLE IF NOT EXISTS mailq_delivery_config")
	assert.Empty(t, conn.execs[0].args, "schema must run without arguments so pgx uses the simple protocol")

	conn = &mockConn{execFunc: func(string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}}
	err := EnsureSchema(context.Background(), conn)
	assert.ErrorContains(t, err, "apply schema")
}

func TestSchema_ErrorColumnWidth(t *testing.T) {
	assert.Contains(t, Schema(), "varchar(1000)")
	assert.Equal(t, 1000, mailq.MaxErrorLength)
}

func TestStore_Insert_NullsOptionalColumns(t *testing.T) {
	conn := &mockConn{}
	s := NewStore(conn)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	e := &mailq.Entry{
		ID: uuid.New(), Recipient: "a@example.com", Subject: "Hi", Category: "General",
		State: mailq.StatePending, MaxAttempts: 5, CreatedAt: now, NextAttemptAt: now,
	}
	require.NoError(t, s.Insert(context.Background(), e))

	require.Len(t, conn.execs, 1)
	args := conn.execs[0].args
	require.Len(t, args, 16)
	assert.Nil(t, args[6], "empty reference id is stored as NULL")
	assert.Equal(t, "pending", args[8])
	assert.Nil(t, args[15], "empty last error is stored as NULL")
}

func TestStore_ClaimAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	e := &mailq.Entry{ID: uuid.New(), AttemptCount: 2, LastAttemptAt: &now}

	t.Run("claimed", func(t *testing.T) {
		conn := &mockConn{execFunc: tag("UPDATE 1")}
		require.NoError(t, NewStore(conn).ClaimAttempt(context.Background(), e, 1))

		sql := conn.execs[0].sql
		assert.Contains(t, sql, "state = 'pending'")
		assert.Contains(t, sql, "attempt_count = $4")
		assert.Equal(t, []any{e.ID, 2, &now, 1}, conn.execs[0].args)
	})

	t.Run("lost", func(t *testing.T) {
		conn := &mockConn{execFunc: tag("UPDATE 0")}
		err := NewStore(conn).ClaimAttempt(context.Background(), e, 1)
		assert.ErrorIs(t, err, mailq.ErrClaimLost)
	})

	t.Run("db error", func(t *testing.T) {
		boom := errors.New("connection reset")
		conn := &mockConn{execFunc: func(string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, boom
		}}
		err := NewStore(conn).ClaimAttempt(context.Background(), e, 1)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, mailq.ErrClaimLost)
	})
}

func TestStore_SaveOutcome(t *testing.T) {
	id := uuid.New()
	out := mailq.Outcome{State: mailq.StateFailed, NextAttemptAt: time.Now(), LastError: "550 rejected"}

	existsRow := func(ok bool) func(string, ...any) mailq.Row {
		return func(string, ...any) mailq.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*bool) = ok
				return nil
			}}
		}
	}

	t.Run("written", func(t *testing.T) {
		conn := &mockConn{execFunc: tag("UPDATE 1")}
		require.NoError(t, NewStore(conn).SaveOutcome(context.Background(), id, out))
		assert.Contains(t, conn.execs[0].sql, "WHERE id = $1 AND state = 'pending'")
		assert.Equal(t, "550 rejected", conn.execs[0].args[4])
	})

	t.Run("missing", func(t *testing.T) {
		conn := &mockConn{execFunc: tag("UPDATE 0"), queryRowFunc: existsRow(false)}
		err := NewStore(conn).SaveOutcome(context.Background(), id, out)
		assert.ErrorIs(t, err, mailq.ErrNotFound)
	})

	t.Run("no longer pending", func(t *testing.T) {
		conn := &mockConn{execFunc: tag("UPDATE 0"), queryRowFunc: existsRow(true)}
		err := NewStore(conn).SaveOutcome(context.Background(), id, out)
		assert.ErrorIs(t, err, mailq.ErrClaimLost)
	})
}

func TestStore_Cancel(t *testing.T) {
	conn := &mockConn{execFunc: tag("UPDATE 1")}
	ok, err := NewStore(conn).Cancel(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)

	conn = &mockConn{execFunc: tag("UPDATE 0")}
	ok, err = NewStore(conn).Cancel(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CancelScope(t *testing.T) {
	conn := &mockConn{execFunc: tag("UPDATE 7")}
	n, err := NewStore(conn).CancelScope(context.Background(), "North")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Contains(t, conn.execs[0].sql, "lower(scope) = lower($1)")
}

func TestStore_Get_NotFound(t *testing.T) {
	conn := &mockConn{queryRowFunc: func(string, ...any) mailq.Row {
		return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
	}}
	_, err := NewStore(conn).Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, mailq.ErrNotFound)
}

func TestStore_Get_ScansRow(t *testing.T) {
	id := uuid.New()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	sent := created.Add(time.Minute)
	ref := "booking-42"

	conn := &mockConn{queryRowFunc: func(string, ...any) mailq.Row {
		return &mockRow{scanFunc: fillEntry(id, created, &ref, &sent, nil)}
	}}
	e, err := NewStore(conn).Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, e.ID)
	assert.Equal(t, mailq.StateSent, e.State)
	assert.Equal(t, "booking-42", e.ReferenceID)
	assert.Empty(t, e.LastError)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	require.NotNil(t, e.SentAt)
	assert.True(t, e.SentAt.Equal(sent))
	assert.Equal(t, time.UTC, e.SentAt.Location())
	assert.Nil(t, e.LastAttemptAt)
}

func TestStore_SelectEligible(t *testing.T) {
	var gotSQL string
	var gotArgs []any
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := &mockRows{rows: []func(...any) error{
		fillEntry(uuid.New(), created, nil, nil, nil),
		fillEntry(uuid.New(), created.Add(time.Second), nil, nil, nil),
	}}
	conn := &mockConn{queryFunc: func(sql string, args ...any) (mailq.Rows, error) {
		gotSQL, gotArgs = sql, args
		return rows, nil
	}}

	now := created.Add(time.Hour)
	entries, err := NewStore(conn).SelectEligible(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.True(t, rows.closed)
	assert.Contains(t, gotSQL, "attempt_count < max_attempts")
	assert.Contains(t, gotSQL, "ORDER BY created_at, id")
	assert.Equal(t, []any{now, 10}, gotArgs)
}

func TestStore_SelectEligible_ZeroLimit(t *testing.T) {
	conn := &mockConn{queryFunc: func(string, ...any) (mailq.Rows, error) {
		t.Fatal("query must not run for a zero limit")
		return nil, nil
	}}
	entries, err := NewStore(conn).SelectEligible(context.Background(), time.Now(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_SelectEligible_RowsError(t *testing.T) {
	rows := &mockRows{err: errors.New("conn closed")}
	conn := &mockConn{queryFunc: func(string, ...any) (mailq.Rows, error) { return rows, nil }}
	_, err := NewStore(conn).SelectEligible(context.Background(), time.Now(), 5)
	assert.ErrorContains(t, err, "conn closed")
	assert.True(t, rows.closed)
}

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name     string
		filter   mailq.ListFilter
		contains []string
		args     []any
	}{
		{
			name:     "no filter",
			filter:   mailq.ListFilter{},
			contains: []string{"ORDER BY created_at DESC, id DESC"},
		},
		{
			name:     "state and scope",
			filter:   mailq.ListFilter{State: mailq.StateFailed, Scope: "North"},
			contains: []string{"WHERE state = $1 AND lower(scope) = lower($2)"},
			args:     []any{"failed", "North"},
		},
		{
			name:     "paging",
			filter:   mailq.ListFilter{Scope: "x", Limit: 20, Offset: 40},
			contains: []string{"lower(scope) = lower($1)", "LIMIT $2", "OFFSET $3"},
			args:     []any{"x", 20, 40},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildListQuery(tt.filter)
			for _, want := range tt.contains {
				assert.Contains(t, sql, want)
			}
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestStore_Stats(t *testing.T) {
	conn := &mockConn{queryRowFunc: func(string, ...any) mailq.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			for i, v := range []int{3, 10, 2, 1, 1, 16} {
				*dest[i].(*int) = v
			}
			return nil
		}}
	}}
	st, err := NewStore(conn).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mailq.QueueStats{Pending: 3, Sent: 10, Failed: 2, Cancelled: 1, Stuck: 1, Total: 16}, st)
}

func TestStore_RepairExhausted(t *testing.T) {
	conn := &mockConn{execFunc: tag("UPDATE 2")}
	n, err := NewStore(conn).RepairExhausted(context.Background(), time.Now(), mailq.ExhaustedError)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, conn.execs[0].sql, "attempt_count >= max_attempts")
	assert.Equal(t, mailq.ExhaustedError, conn.execs[0].args[1])
}

// fillEntry returns a scan function that writes a sent or pending entry in
// entryColumns order.
func fillEntry(id uuid.UUID, created time.Time, ref *string, sentAt *time.Time, lastErr *string) func(dest ...any) error {
	return func(dest ...any) error {
		state := "pending"
		if sentAt != nil {
			state = "sent"
		}
		*dest[0].(*uuid.UUID) = id
		*dest[1].(*string) = "a@example.com"
		*dest[2].(*string) = "Subject"
		*dest[3].(*string) = "<p>body</p>"
		*dest[4].(*string) = "General"
		*dest[5].(*string) = "north"
		*dest[6].(**string) = ref
		*dest[7].(*[]byte) = nil
		*dest[8].(*string) = state
		*dest[9].(*int) = 1
		*dest[10].(*int) = 5
		*dest[11].(*time.Time) = created
		*dest[12].(*time.Time) = created
		*dest[13].(**time.Time) = nil
		*dest[14].(**time.Time) = sentAt
		*dest[15].(**string) = lastErr
		return nil
	}
}

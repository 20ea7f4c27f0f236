// Package postgres persists queue entries and delivery configurations in
// PostgreSQL through the mailq.DBConnection abstraction.
//
// Every state change that the drain pass makes is a conditional UPDATE
// guarded by the row's current state (and, for claims, its attempt count),
// so a second drainer working the same table cannot send an entry twice or
// overwrite a terminal state.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vvka-141/mailq/pkg/mailq"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL applied by EnsureSchema.
func Schema() string {
	return schemaSQL
}

// EnsureSchema creates the queue tables and indexes if they do not exist.
// The DDL is idempotent and safe to run on every start.
func EnsureSchema(ctx context.Context, conn mailq.DBConnection) error {
	if conn == nil {
		panic("conn cannot be nil")
	}
	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const entryColumns = `id, recipient, subject, body, category, scope, reference_id,
	attachments, state, attempt_count, max_attempts, created_at, next_attempt_at,
	last_attempt_at, sent_at, last_error`

const eligiblePredicate = `state = 'pending' AND attempt_count < max_attempts`

// Store implements mailq.Store on the mailq_entry table.
type Store struct {
	conn mailq.DBConnection
}

var _ mailq.Store = (*Store)(nil)

// NewStore creates a Store. Panics if conn is nil.
func NewStore(conn mailq.DBConnection) *Store {
	if conn == nil {
		panic("conn cannot be nil")
	}
	return &Store{conn: conn}
}

func (s *Store) Insert(ctx context.Context, e *mailq.Entry) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO mailq_entry (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.Recipient, e.Subject, e.Body, e.Category, e.Scope, nullString(e.ReferenceID),
		e.Attachments, string(e.State), e.AttemptCount, e.MaxAttempts, e.CreatedAt, e.NextAttemptAt,
		e.LastAttemptAt, e.SentAt, nullString(mailq.TruncateError(e.LastError)),
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM mailq_entry WHERE `+eligiblePredicate,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (s *Store) SelectEligible(ctx context.Context, now time.Time, limit int) ([]*mailq.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT `+entryColumns+`
		FROM mailq_entry
		WHERE `+eligiblePredicate+` AND next_attempt_at <= $1
		ORDER BY created_at, id
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select eligible: %w", err)
	}
	return collectEntries(rows)
}

func (s *Store) ClaimAttempt(ctx context.Context, e *mailq.Entry, prevAttempts int) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE mailq_entry
		SET attempt_count = $2, last_attempt_at = $3
		WHERE id = $1 AND state = 'pending' AND attempt_count = $4`,
		e.ID, e.AttemptCount, e.LastAttemptAt, prevAttempts,
	)
	if err != nil {
		return fmt.Errorf("claim entry %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return mailq.ErrClaimLost
	}
	return nil
}

func (s *Store) SaveOutcome(ctx context.Context, id uuid.UUID, out mailq.Outcome) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE mailq_entry
		SET state = $2, next_attempt_at = $3, sent_at = COALESCE($4, sent_at), last_error = $5
		WHERE id = $1 AND state = 'pending'`,
		id, string(out.State), out.NextAttemptAt, out.SentAt, nullString(mailq.TruncateError(out.LastError)),
	)
	if err != nil {
		return fmt.Errorf("save outcome of %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	exists, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return mailq.ErrNotFound
	}
	return mailq.ErrClaimLost
}

func (s *Store) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	if err := s.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mailq_entry WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check entry %s: %w", id, err)
	}
	return ok, nil
}

func (s *Store) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.conn.Exec(ctx,
		`UPDATE mailq_entry SET state = 'cancelled' WHERE id = $1 AND state = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("cancel entry %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CancelScope(ctx context.Context, scope string) (int, error) {
	tag, err := s.conn.Exec(ctx,
		`UPDATE mailq_entry SET state = 'cancelled' WHERE lower(scope) = lower($1) AND state = 'pending'`, scope)
	if err != nil {
		return 0, fmt.Errorf("cancel scope %q: %w", scope, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*mailq.Entry, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+entryColumns+` FROM mailq_entry WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mailq.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, f mailq.ListFilter) ([]*mailq.Entry, error) {
	query, args := buildListQuery(f)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return collectEntries(rows)
}

func buildListQuery(f mailq.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.State != "" {
		args = append(args, string(f.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if f.Scope != "" {
		args = append(args, f.Scope)
		where = append(where, fmt.Sprintf("lower(scope) = lower($%d)", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT " + entryColumns + " FROM mailq_entry")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func (s *Store) Stats(ctx context.Context) (mailq.QueueStats, error) {
	var st mailq.QueueStats
	err := s.conn.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE state = 'pending'),
			count(*) FILTER (WHERE state = 'sent'),
			count(*) FILTER (WHERE state = 'failed'),
			count(*) FILTER (WHERE state = 'cancelled'),
			count(*) FILTER (WHERE state = 'pending' AND attempt_count >= max_attempts),
			count(*)
		FROM mailq_entry`,
	).Scan(&st.Pending, &st.Sent, &st.Failed, &st.Cancelled, &st.Stuck, &st.Total)
	if err != nil {
		return mailq.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return st, nil
}

func (s *Store) RepairExhausted(ctx context.Context, now time.Time, reason string) (int, error) {
	tag, err := s.conn.Exec(ctx, `
		UPDATE mailq_entry
		SET state = 'failed', last_error = $2, last_attempt_at = COALESCE(last_attempt_at, $1)
		WHERE state = 'pending' AND attempt_count >= max_attempts`,
		now, mailq.TruncateError(reason),
	)
	if err != nil {
		return 0, fmt.Errorf("repair exhausted entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectEntries(rows mailq.Rows) ([]*mailq.Entry, error) {
	defer rows.Close()

	var out []*mailq.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	return out, nil
}

// scanEntry reads one row in entryColumns order. Timestamps come back in UTC.
func scanEntry(row mailq.Row) (*mailq.Entry, error) {
	var (
		e             mailq.Entry
		state         string
		referenceID   *string
		lastError     *string
		lastAttemptAt *time.Time
		sentAt        *time.Time
	)
	err := row.Scan(
		&e.ID, &e.Recipient, &e.Subject, &e.Body, &e.Category, &e.Scope, &referenceID,
		&e.Attachments, &state, &e.AttemptCount, &e.MaxAttempts, &e.CreatedAt, &e.NextAttemptAt,
		&lastAttemptAt, &sentAt, &lastError,
	)
	if err != nil {
		return nil, err
	}

	e.State = mailq.State(state)
	e.CreatedAt = e.CreatedAt.UTC()
	e.NextAttemptAt = e.NextAttemptAt.UTC()
	e.LastAttemptAt = utcPtr(lastAttemptAt)
	e.SentAt = utcPtr(sentAt)
	if referenceID != nil {
		e.ReferenceID = *referenceID
	}
	if lastError != nil {
		e.LastError = *lastError
	}
	return &e, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

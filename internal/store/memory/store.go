// Package memory provides an in-process mailq.Store and mailq.ConfigResolver.
// Entries live only as long as the process; it backs unit tests and dry runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// Store is a mutex-guarded map of entries. Returned entries are copies.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*mailq.Entry

	// Fail, when set, is consulted before every operation; a non-nil
	// return is reported as that operation's error.
	Fail func(op string) error
}

var _ mailq.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[uuid.UUID]*mailq.Entry)}
}

func (s *Store) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

func eligible(e *mailq.Entry) bool {
	return e.State == mailq.StatePending && e.AttemptCount < e.MaxAttempts
}

func clone(e *mailq.Entry) *mailq.Entry {
	c := *e
	if e.LastAttemptAt != nil {
		t := *e.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if e.SentAt != nil {
		t := *e.SentAt
		c.SentAt = &t
	}
	if e.Attachments != nil {
		c.Attachments = append([]byte(nil), e.Attachments...)
	}
	return &c
}

// Insert stores a copy of e.
func (s *Store) Insert(ctx context.Context, e *mailq.Entry) error {
	if err := s.fail("insert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = clone(e)
	return nil
}

// Put replaces an entry as-is. Tests use it to arrange arbitrary states.
func (s *Store) Put(e *mailq.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = clone(e)
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	if err := s.fail("count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if eligible(e) {
			n++
		}
	}
	return n, nil
}

func (s *Store) SelectEligible(ctx context.Context, now time.Time, limit int) ([]*mailq.Entry, error) {
	if err := s.fail("select"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*mailq.Entry
	for _, e := range s.entries {
		if eligible(e) && !e.NextAttemptAt.After(now) {
			out = append(out, clone(e))
		}
	}
	sortOldestFirst(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimAttempt(ctx context.Context, e *mailq.Entry, prevAttempts int) error {
	if err := s.fail("claim"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[e.ID]
	if !ok || cur.State != mailq.StatePending || cur.AttemptCount != prevAttempts {
		return mailq.ErrClaimLost
	}
	cur.AttemptCount = e.AttemptCount
	if e.LastAttemptAt != nil {
		t := *e.LastAttemptAt
		cur.LastAttemptAt = &t
	}
	return nil
}

func (s *Store) SaveOutcome(ctx context.Context, id uuid.UUID, out mailq.Outcome) error {
	if err := s.fail("save"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[id]
	if !ok {
		return mailq.ErrNotFound
	}
	if cur.State != mailq.StatePending {
		return mailq.ErrClaimLost
	}
	cur.State = out.State
	cur.NextAttemptAt = out.NextAttemptAt
	cur.LastError = out.LastError
	if out.SentAt != nil {
		t := *out.SentAt
		cur.SentAt = &t
	}
	return nil
}

func (s *Store) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := s.fail("cancel"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[id]
	if !ok || cur.State != mailq.StatePending {
		return false, nil
	}
	cur.State = mailq.StateCancelled
	return true, nil
}

func (s *Store) CancelScope(ctx context.Context, scope string) (int, error) {
	if err := s.fail("cancel"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if strings.EqualFold(e.Scope, scope) && e.State == mailq.StatePending {
			e.State = mailq.StateCancelled
			n++
		}
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*mailq.Entry, error) {
	if err := s.fail("get"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[id]
	if !ok {
		return nil, mailq.ErrNotFound
	}
	return clone(cur), nil
}

func (s *Store) List(ctx context.Context, f mailq.ListFilter) ([]*mailq.Entry, error) {
	if err := s.fail("list"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*mailq.Entry
	for _, e := range s.entries {
		if f.State != "" && e.State != f.State {
			continue
		}
		if f.Scope != "" && !strings.EqualFold(e.Scope, f.Scope) {
			continue
		}
		out = append(out, clone(e))
	}
	sortOldestFirst(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (mailq.QueueStats, error) {
	if err := s.fail("stats"); err != nil {
		return mailq.QueueStats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var st mailq.QueueStats
	for _, e := range s.entries {
		st.Total++
		switch e.State {
		case mailq.StatePending:
			st.Pending++
			if e.AttemptCount >= e.MaxAttempts {
				st.Stuck++
			}
		case mailq.StateSent:
			st.Sent++
		case mailq.StateFailed:
			st.Failed++
		case mailq.StateCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

func (s *Store) RepairExhausted(ctx context.Context, now time.Time, reason string) (int, error) {
	if err := s.fail("repair"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.State == mailq.StatePending && e.AttemptCount >= e.MaxAttempts {
			e.State = mailq.StateFailed
			e.LastError = mailq.TruncateError(reason)
			if e.LastAttemptAt == nil {
				t := now
				e.LastAttemptAt = &t
			}
			n++
		}
	}
	return n, nil
}

func sortOldestFirst(entries []*mailq.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
}

package mailq

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of an attempt written back to an entry.
type Outcome struct {
	State         State
	NextAttemptAt time.Time
	SentAt        *time.Time
	LastError     string
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	State  State
	Scope  string
	Limit  int
	Offset int
}

// QueueStats counts entries per state. Stuck counts pending entries whose
// retry budget is already exhausted.
type QueueStats struct {
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Stuck     int `json:"stuck"`
	Total     int `json:"total"`
}

// Store persists queue entries.
//
// Eligibility everywhere means state = pending and attempt_count < max_attempts.
// ClaimAttempt and SaveOutcome are conditional writes so that a concurrent
// writer can never cause a double send or overwrite a terminal state.
type Store interface {
	// Insert persists a new entry.
	Insert(ctx context.Context, e *Entry) error

	// CountPending counts eligible entries regardless of NextAttemptAt.
	CountPending(ctx context.Context) (int, error)

	// SelectEligible returns up to limit eligible entries with
	// NextAttemptAt <= now, ordered by CreatedAt then ID.
	SelectEligible(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// ClaimAttempt records an attempt on e. It succeeds only if the stored
	// entry is still pending with prevAttempts attempts; otherwise it
	// returns ErrClaimLost.
	ClaimAttempt(ctx context.Context, e *Entry, prevAttempts int) error

	// SaveOutcome writes the result of an attempt if the entry is still pending.
	SaveOutcome(ctx context.Context, id uuid.UUID, out Outcome) error

	// Cancel moves a pending entry to cancelled and reports whether it did.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)

	// CancelScope cancels every pending entry of a scope and returns how many.
	CancelScope(ctx context.Context, scope string) (int, error)

	// Get loads one entry or returns ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)

	// List returns entries newest first.
	List(ctx context.Context, f ListFilter) ([]*Entry, error)

	// Stats counts entries per state.
	Stats(ctx context.Context) (QueueStats, error)

	// RepairExhausted closes pending entries whose budget is exhausted.
	RepairExhausted(ctx context.Context, now time.Time, reason string) (int, error)
}

// Recorder receives queue telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Enqueued(category string)
	Attempted(category string, outcome string)
	Drained(result DrainResult, took time.Duration)
	PendingObserved(n int)
}

// Attempt outcome labels passed to Recorder.Attempted.
const (
	OutcomeSent         = "sent"
	OutcomeRetry        = "retry"
	OutcomeConnectivity = "connectivity"
	OutcomeFailed       = "failed"
	OutcomeNoConfig     = "no_config"
)

// NopRecorder discards telemetry.
type NopRecorder struct{}

func (NopRecorder) Enqueued(string)                    {}
func (NopRecorder) Attempted(string, string)           {}
func (NopRecorder) Drained(DrainResult, time.Duration) {}
func (NopRecorder) PendingObserved(int)                {}

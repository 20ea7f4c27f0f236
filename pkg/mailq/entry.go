package mailq

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a queue entry.
type State string

const (
	StatePending   State = "pending"
	StateSent      State = "sent"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further attempts will be made.
func (s State) IsTerminal() bool {
	return s == StateSent || s == StateFailed || s == StateCancelled
}

// IsValid reports whether s is one of the defined states.
func (s State) IsValid() bool {
	return s == StatePending || s.IsTerminal()
}

// ParseState converts a case-insensitive name into a State.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("unknown state %q: %w", s, ErrInvalidConfig)
	}
	return st, nil
}

// Entry is one outbound message together with its delivery bookkeeping.
//
// A pending entry always has AttemptCount < MaxAttempts. A sent entry has
// SentAt set and LastError empty.
type Entry struct {
	ID          uuid.UUID
	Recipient   string
	Subject     string
	Body        string
	Category    string
	Scope       string
	ReferenceID string // empty when the producer supplied none

	// Attachments is the encoded attachment blob; nil means none.
	Attachments []byte

	State         State
	AttemptCount  int
	MaxAttempts   int
	CreatedAt     time.Time
	NextAttemptAt time.Time
	LastAttemptAt *time.Time
	SentAt        *time.Time
	LastError     string
}

// Exhausted reports whether the retry budget is used up.
func (e *Entry) Exhausted() bool {
	return e.AttemptCount >= e.MaxAttempts
}

// EnqueueRequest is what a producer hands to Enqueue.
type EnqueueRequest struct {
	Recipient   string
	Subject     string
	Body        string
	Category    string
	Scope       string
	ReferenceID string
	Attachments []Attachment

	// MaxAttempts overrides the queue default when positive.
	MaxAttempts int
}

// AttachmentKind tags the Attachments variant.
type AttachmentKind int

const (
	AttachmentsNone AttachmentKind = iota
	AttachmentsInline
)

// Attachment is a single file carried with a message.
type Attachment struct {
	Name      string
	Content   []byte
	MediaType string
}

// Attachments is either nothing or a list of inline files.
type Attachments struct {
	Kind  AttachmentKind
	Items []Attachment
}

// NoAttachments is the None variant.
func NoAttachments() Attachments { return Attachments{Kind: AttachmentsNone} }

// InlineAttachments returns the Inline variant, or None for an empty list.
func InlineAttachments(items []Attachment) Attachments {
	if len(items) == 0 {
		return NoAttachments()
	}
	return Attachments{Kind: AttachmentsInline, Items: items}
}

// DrainResult aggregates one drain pass. Failed counts only entries that
// reached the terminal failed state during the pass.
type DrainResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// Add accumulates another result.
func (r DrainResult) Add(o DrainResult) DrainResult {
	return DrainResult{
		Processed: r.Processed + o.Processed,
		Succeeded: r.Succeeded + o.Succeeded,
		Failed:    r.Failed + o.Failed,
	}
}

// TruncateError limits msg to MaxErrorLength characters.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorLength {
		return msg
	}
	return string(r[:MaxErrorLength])
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vvka-141/mailq/internal/attachment"
	"github.com/vvka-141/mailq/internal/retry"
	"github.com/vvka-141/mailq/pkg/mailq"
)

// outcomeWriteTimeout bounds writes that record an attempt after the caller's
// context may already be cancelled.
const outcomeWriteTimeout = 10 * time.Second

// Service is the queue store and retry engine. Producers call Enqueue; the
// scheduler calls CountPending and DrainBatch. A Service is safe for
// concurrent use, but only one DrainBatch should run at a time.
type Service struct {
	store     mailq.Store
	resolver  mailq.ConfigResolver
	transport mailq.Transport
	logger    mailq.Logger

	clock             mailq.Clock
	backoff           mailq.BackoffStrategy
	classifier        mailq.ErrorClassifier
	recorder          mailq.Recorder
	connectivityDelay time.Duration
	attemptTimeout    time.Duration
	maxAttempts       int
}

// NewService wires the engine. Panics if any collaborator is nil.
func NewService(store mailq.Store, resolver mailq.ConfigResolver, transport mailq.Transport, logger mailq.Logger, opts ...Option) *Service {
	if store == nil {
		panic("store cannot be nil")
	}
	if resolver == nil {
		panic("resolver cannot be nil")
	}
	if transport == nil {
		panic("transport cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	s := &Service{
		store:             store,
		resolver:          resolver,
		transport:         transport,
		logger:            logger,
		clock:             mailq.SystemClock{},
		classifier:        retry.ConnectivityClassifier{},
		recorder:          mailq.NopRecorder{},
		connectivityDelay: mailq.DefaultConnectivityDelay,
		attemptTimeout:    mailq.DefaultAttemptTimeout,
		maxAttempts:       mailq.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts <= 0 {
		panic("max attempts must be positive")
	}
	if s.backoff == nil {
		s.backoff = retry.NewDelayTable(s.maxAttempts)
	}
	return s
}

// Enqueue validates req and persists it as a pending entry, eligible
// immediately. If persistence fails it returns uuid.Nil and an error
// wrapping mailq.ErrNotEnqueued; the failure is logged either way.
func (s *Service) Enqueue(ctx context.Context, req mailq.EnqueueRequest) (uuid.UUID, error) {
	if err := validateRequest(&req); err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate id: %w", errors.Join(mailq.ErrNotEnqueued, err))
	}

	blob, err := attachment.Encode(req.Attachments)
	if err != nil {
		s.logger.Warn("[queue] dropping attachments for %s to %s: %v", id, req.Recipient, err)
		blob = nil
	}

	maxAttempts := s.maxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}

	now := s.clock.Now()
	e := &mailq.Entry{
		ID:            id,
		Recipient:     req.Recipient,
		Subject:       req.Subject,
		Body:          req.Body,
		Category:      req.Category,
		Scope:         req.Scope,
		ReferenceID:   req.ReferenceID,
		Attachments:   blob,
		State:         mailq.StatePending,
		MaxAttempts:   maxAttempts,
		CreatedAt:     now,
		NextAttemptAt: now,
	}

	if err := s.store.Insert(ctx, e); err != nil {
		s.logger.Error("[queue] failed to enqueue message to %s (%s): %v", req.Recipient, req.Category, err)
		return uuid.Nil, fmt.Errorf("%w: %w", mailq.ErrNotEnqueued, err)
	}

	s.recorder.Enqueued(e.Category)
	s.logger.Verbose("[queue] enqueued %s to %s (%s, scope %q)", e.ID, e.Recipient, e.Category, e.Scope)
	return e.ID, nil
}

func validateRequest(req *mailq.EnqueueRequest) error {
	req.Recipient = strings.TrimSpace(req.Recipient)
	req.Subject = strings.TrimSpace(req.Subject)
	req.Category = strings.TrimSpace(req.Category)
	req.Scope = strings.TrimSpace(req.Scope)
	req.ReferenceID = strings.TrimSpace(req.ReferenceID)
	if req.Category == "" {
		req.Category = mailq.DefaultCategory
	}

	var errs []error
	if req.Recipient == "" {
		errs = append(errs, fmt.Errorf("recipient is required: %w", mailq.ErrInvalidEntry))
	}
	if req.Subject == "" {
		errs = append(errs, fmt.Errorf("subject is required: %w", mailq.ErrInvalidEntry))
	}
	if req.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max attempts cannot be negative: %w", mailq.ErrInvalidEntry))
	}
	return errors.Join(errs...)
}

// CountPending returns the number of entries that are pending with budget
// left, whether or not they are due yet.
func (s *Service) CountPending(ctx context.Context) (int, error) {
	n, err := s.store.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	s.recorder.PendingObserved(n)
	return n, nil
}

// Cancel moves a pending entry to cancelled. It reports false when the
// entry does not exist, is not pending, or the store failed.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) bool {
	ok, err := s.store.Cancel(ctx, id)
	if err != nil {
		s.logger.Error("[queue] cancel %s: %v", id, err)
		return false
	}
	if ok {
		s.logger.Info("[queue] cancelled %s", id)
	}
	return ok
}

// CancelScope cancels every pending entry of scope.
func (s *Service) CancelScope(ctx context.Context, scope string) (int, error) {
	n, err := s.store.CancelScope(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("cancel scope %q: %w", scope, err)
	}
	s.logger.Info("[queue] cancelled %d pending entries of scope %q", n, scope)
	return n, nil
}

// Get loads one entry.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*mailq.Entry, error) {
	return s.store.Get(ctx, id)
}

// List browses entries newest first.
func (s *Service) List(ctx context.Context, f mailq.ListFilter) ([]*mailq.Entry, error) {
	return s.store.List(ctx, f)
}

// Stats counts entries per state.
func (s *Service) Stats(ctx context.Context) (mailq.QueueStats, error) {
	return s.store.Stats(ctx)
}

// Repair closes pending entries whose attempt budget is already spent.
// Such entries are left behind when the process stops between claiming a
// final attempt and recording its outcome.
func (s *Service) Repair(ctx context.Context) (int, error) {
	n, err := s.store.RepairExhausted(ctx, s.clock.Now(), mailq.ExhaustedError)
	if err != nil {
		return 0, fmt.Errorf("repair: %w", err)
	}
	if n > 0 {
		s.logger.Warn("[queue] closed %d pending entries with exhausted attempts", n)
	}
	return n, nil
}

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/vvka-141/mailq/internal/attachment"
	"github.com/vvka-141/mailq/pkg/mailq"
)

// attemptResult is what one processed entry contributes to a DrainResult.
type attemptResult int

const (
	attemptSkipped attemptResult = iota
	attemptSent
	attemptRetry
	attemptFailed
)

// DrainBatch attempts delivery of up to maxCount eligible entries, oldest
// first, one at a time. It never returns an error: store failures are logged
// and yield an empty result. Cancelling ctx stops the pass between entries;
// an attempt already in flight still gets its outcome recorded.
func (s *Service) DrainBatch(ctx context.Context, maxCount int) mailq.DrainResult {
	var result mailq.DrainResult
	if maxCount <= 0 {
		return result
	}

	start := time.Now()
	entries, err := s.store.SelectEligible(ctx, s.clock.Now(), maxCount)
	if err != nil {
		s.logger.Error("[queue] select eligible entries: %v", err)
		return result
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			s.logger.Verbose("[queue] drain interrupted after %d of %d entries", result.Processed, len(entries))
			break
		}

		switch s.attempt(ctx, e) {
		case attemptSent:
			result.Processed++
			result.Succeeded++
		case attemptRetry:
			result.Processed++
		case attemptFailed:
			result.Processed++
			result.Failed++
		}
	}

	s.recorder.Drained(result, time.Since(start))
	return result
}

// attempt runs one delivery attempt for e and records its outcome.
func (s *Service) attempt(ctx context.Context, e *mailq.Entry) attemptResult {
	prevAttempts := e.AttemptCount
	now := s.clock.Now()
	e.AttemptCount++
	e.LastAttemptAt = &now

	if err := s.store.ClaimAttempt(ctx, e, prevAttempts); err != nil {
		if errors.Is(err, mailq.ErrClaimLost) {
			s.logger.Verbose("[queue] %s changed since selection, skipping", e.ID)
		} else {
			s.logger.Error("[queue] claim %s: %v", e.ID, err)
		}
		return attemptSkipped
	}

	cfg, err := s.resolver.ResolveDeliveryConfig(ctx, e.Scope)
	if err == nil && cfg == nil {
		s.logger.Error("[queue] %s: no active delivery configuration for scope %q", e.ID, e.Scope)
		s.recorder.Attempted(e.Category, mailq.OutcomeNoConfig)
		return s.finish(ctx, e, mailq.Outcome{
			State:         mailq.StateFailed,
			NextAttemptAt: e.NextAttemptAt,
			LastError:     mailq.NoDeliveryConfigError,
		})
	}
	if err == nil {
		err = s.send(ctx, e, cfg)
	}

	if err == nil {
		sentAt := s.clock.Now()
		s.logger.Info("[queue] sent %s to %s (attempt %d)", e.ID, e.Recipient, e.AttemptCount)
		s.recorder.Attempted(e.Category, mailq.OutcomeSent)
		return s.finish(ctx, e, mailq.Outcome{
			State:         mailq.StateSent,
			NextAttemptAt: e.NextAttemptAt,
			SentAt:        &sentAt,
		})
	}

	return s.failAttempt(ctx, e, err)
}

func (s *Service) send(ctx context.Context, e *mailq.Entry, cfg *mailq.DeliveryConfig) error {
	atts, err := attachment.Decode(e.Attachments)
	if err != nil {
		s.logger.Warn("[queue] %s: sending without attachments: %v", e.ID, err)
	}

	timeout := s.attemptTimeout
	if cfg.Timeout > 0 && (timeout <= 0 || cfg.Timeout < timeout) {
		timeout = cfg.Timeout
	}
	sendCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return s.transport.Send(sendCtx, cfg, &mailq.Message{
		ID:          e.ID.String(),
		To:          e.Recipient,
		Subject:     e.Subject,
		HTMLBody:    e.Body,
		Attachments: atts,
	})
}

// failAttempt schedules the next attempt after err, or closes the entry
// when its budget is spent.
func (s *Service) failAttempt(ctx context.Context, e *mailq.Entry, err error) attemptResult {
	var rejected *mailq.RejectedError
	var delay time.Duration
	var label string
	switch {
	case errors.As(err, &rejected):
		delay = s.backoff.NextDelay(e.AttemptCount - 1)
		label = mailq.OutcomeRetry
	case s.classifier.IsTransient(err):
		delay = s.connectivityDelay
		label = mailq.OutcomeConnectivity
	default:
		delay = s.backoff.NextDelay(e.AttemptCount - 1)
		label = mailq.OutcomeRetry
	}

	out := mailq.Outcome{
		State:         mailq.StatePending,
		NextAttemptAt: e.LastAttemptAt.Add(delay),
		LastError:     mailq.TruncateError(err.Error()),
	}
	if e.Exhausted() {
		out.State = mailq.StateFailed
		out.NextAttemptAt = e.NextAttemptAt
		label = mailq.OutcomeFailed
		s.logger.Error("[queue] %s to %s failed permanently after %d attempts: %v", e.ID, e.Recipient, e.AttemptCount, err)
	} else {
		s.logger.Warn("[queue] %s to %s attempt %d/%d failed (%s), next at %s: %v",
			e.ID, e.Recipient, e.AttemptCount, e.MaxAttempts, label, out.NextAttemptAt.Format(time.RFC3339), err)
	}

	s.recorder.Attempted(e.Category, label)
	return s.finish(ctx, e, out)
}

// finish persists out. The write is detached from ctx cancellation: the
// attempt already happened and must not be repeated because shutdown began.
func (s *Service) finish(ctx context.Context, e *mailq.Entry, out mailq.Outcome) attemptResult {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()

	if err := s.store.SaveOutcome(writeCtx, e.ID, out); err != nil {
		// The entry stays pending and will be attempted again.
		s.logger.Error("[queue] record outcome of %s (%s): %v", e.ID, out.State, err)
		return attemptRetry
	}

	e.State = out.State
	e.NextAttemptAt = out.NextAttemptAt
	e.SentAt = out.SentAt
	e.LastError = out.LastError

	switch out.State {
	case mailq.StateSent:
		return attemptSent
	case mailq.StateFailed:
		return attemptFailed
	}
	return attemptRetry
}

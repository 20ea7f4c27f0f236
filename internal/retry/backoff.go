package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// DelayTable is a fixed backoff table. The delay after the n-th attempt is
// the n-th entry; attempts beyond the table reuse the last entry.
type DelayTable struct {
	delays      []time.Duration
	maxAttempts int
}

var _ mailq.BackoffStrategy = (*DelayTable)(nil)

// NewDelayTable creates a table backoff. With no delays it falls back to
// mailq.DefaultRetryDelays. Panics if a delay is negative.
//
// Example:
//
//	table := retry.NewDelayTable(5, time.Minute, 2*time.Minute, 5*time.Minute)
//	table.NextDelay(0) // 1m, after the first attempt
//	table.NextDelay(9) // 5m, clamped to the last entry
func NewDelayTable(maxAttempts int, delays ...time.Duration) *DelayTable {
	if len(delays) == 0 {
		delays = mailq.DefaultRetryDelays
	}
	for _, d := range delays {
		if d < 0 {
			panic("retry delay cannot be negative")
		}
	}
	cp := make([]time.Duration, len(delays))
	copy(cp, delays)
	return &DelayTable{delays: cp, maxAttempts: maxAttempts}
}

// NextDelay returns the delay for a zero-indexed attempt. For a queue entry
// that has made AttemptCount attempts the index is AttemptCount-1.
func (t *DelayTable) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(t.delays) {
		attempt = len(t.delays) - 1
	}
	return t.delays[attempt]
}

// MaxAttempts returns the retry budget the table was built for.
func (t *DelayTable) MaxAttempts() int {
	return t.maxAttempts
}

// Delays returns a copy of the table.
func (t *DelayTable) Delays() []time.Duration {
	cp := make([]time.Duration, len(t.delays))
	copy(cp, t.delays)
	return cp
}

// ExponentialBackoff implements exponential backoff with jitter.
// It paces database connection retries; queue entries use DelayTable.
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64

	// maxAttempts is the maximum number of retry attempts (-1 = unlimited, 0 = no retries)
	maxAttempts int

	// jitter of 0.1 means +/- 10% randomness
	jitter     float64
	jitterFunc func() float64
}

var _ mailq.BackoffStrategy = (*ExponentialBackoff)(nil)

// BackoffOption is a functional option for configuring ExponentialBackoff.
type BackoffOption func(*ExponentialBackoff)

// WithInitialDelay sets the initial delay for the first retry attempt.
func WithInitialDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) {
		b.initialDelay = d
	}
}

// WithMaxDelay sets the maximum delay between retry attempts.
func WithMaxDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) {
		b.maxDelay = d
	}
}

// WithMultiplier sets the factor by which delay increases between attempts.
func WithMultiplier(m float64) BackoffOption {
	return func(b *ExponentialBackoff) {
		b.multiplier = m
	}
}

// WithJitter sets the jitter factor (0.0-1.0).
func WithJitter(j float64) BackoffOption {
	return func(b *ExponentialBackoff) {
		b.jitter = j
	}
}

// WithJitterFunc sets a custom source of random values in [0, 1).
func WithJitterFunc(f func() float64) BackoffOption {
	return func(b *ExponentialBackoff) {
		b.jitterFunc = f
	}
}

// NewExponentialBackoff creates an exponential strategy starting at 100ms,
// doubling up to 30s with 10% jitter unless overridden by options.
func NewExponentialBackoff(maxAttempts int, opts ...BackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initialDelay: 100 * time.Millisecond,
		maxDelay:     30 * time.Second,
		multiplier:   2.0,
		maxAttempts:  maxAttempts,
		jitter:       0.1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NextDelay returns initialDelay * multiplier^attempt, capped and jittered.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delayMs := float64(b.initialDelay.Milliseconds()) * math.Pow(b.multiplier, float64(attempt))
	if delayMs > float64(b.maxDelay.Milliseconds()) {
		delayMs = float64(b.maxDelay.Milliseconds())
	}

	if b.jitter > 0 {
		jitterFunc := b.jitterFunc
		if jitterFunc == nil {
			jitterFunc = rand.Float64
		}
		// map [0,1) to [-1,1)
		randomOffset := (jitterFunc() - 0.5) * 2.0
		delayMs *= 1.0 + (b.jitter * randomOffset)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// MaxAttempts returns the maximum number of retry attempts.
func (b *ExponentialBackoff) MaxAttempts() int {
	return b.maxAttempts
}

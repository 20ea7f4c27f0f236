// Package scheduler runs the background loop that periodically drains the
// mail queue: one startup delay, then cycle, sleep, repeat until cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Drainer is the part of the queue the scheduler drives.
type Drainer interface {
	CountPending(ctx context.Context) (int, error)
	DrainBatch(ctx context.Context, maxCount int) mailq.DrainResult
}

// State is the lifecycle position of a Scheduler.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Run describes the most recent cycle.
type Run struct {
	At      time.Time
	Pending int
	Result  mailq.DrainResult
	Err     error
}

// Scheduler owns the drain loop. Cycles never overlap because they run on
// the loop goroutine itself.
type Scheduler struct {
	drainer Drainer
	logger  mailq.Logger

	startupDelay time.Duration
	interval     time.Duration
	batchSize    int
	clock        mailq.Clock

	state   atomic.Int32
	started atomic.Bool
	trigger chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	lastRun *Run
	cancel  context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStartupDelay sets the wait before the first cycle.
func WithStartupDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		s.startupDelay = d
	}
}

// WithInterval sets the pause between cycles.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithBatchSize sets how many entries one cycle may drain.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		s.batchSize = n
	}
}

// WithClock replaces the clock used to stamp runs.
func WithClock(c mailq.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// New creates a Scheduler in the Starting state. Panics if drainer or
// logger is nil, or if the batch size or interval is not positive.
func New(drainer Drainer, logger mailq.Logger, opts ...Option) *Scheduler {
	if drainer == nil {
		panic("drainer cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	s := &Scheduler{
		drainer:      drainer,
		logger:       logger,
		startupDelay: mailq.DefaultStartupDelay,
		interval:     mailq.DefaultInterval,
		batchSize:    mailq.DefaultBatchSize,
		clock:        mailq.SystemClock{},
		trigger:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.batchSize <= 0 {
		panic("batch size must be positive")
	}
	if s.interval <= 0 {
		panic("interval must be positive")
	}
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Done is closed once the loop has stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// LastRun returns the most recent cycle, if any has run.
func (s *Scheduler) LastRun() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return Run{}, false
	}
	return *s.lastRun, true
}

// Trigger wakes the loop so the next cycle starts without waiting for the
// interval. Triggers that arrive while a cycle runs collapse into one.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. A cycle in progress when ctx is
// cancelled stops between entries; Run returns after it has.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(s.done)

	s.logger.Info("[scheduler] starting: first cycle in %s, then every %s, up to %d per cycle",
		s.startupDelay, s.interval, s.batchSize)

	if s.wait(ctx, s.startupDelay) {
		s.state.Store(int32(StateRunning))
		for {
			s.cycle(ctx)
			if !s.wait(ctx, s.interval) {
				break
			}
		}
	}

	s.state.Store(int32(StateStopping))
	s.logger.Info("[scheduler] stopping")
	s.state.Store(int32(StateStopped))
	s.logger.Info("[scheduler] stopped")
	return nil
}

// Start runs the loop on its own goroutine. Use Stop to end it.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		if err := s.Run(runCtx); err != nil {
			s.logger.Error("[scheduler] %v", err)
		}
	}()
}

// Stop cancels a loop begun with Start and waits for it to finish, or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	if s.State() != StateStopped {
		s.state.Store(int32(StateStopping))
	}
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduler to stop: %w", ctx.Err())
	}
}

// wait sleeps for d. It returns false when ctx is done.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.trigger:
		return true
	case <-timer.C:
		return true
	}
}

// cycle probes the queue and drains one batch. Errors and panics are logged
// and swallowed so the loop keeps going.
func (s *Scheduler) cycle(ctx context.Context) {
	run := Run{At: s.clock.Now()}
	defer func() {
		if r := recover(); r != nil {
			run.Err = fmt.Errorf("cycle panicked: %v", r)
			s.logger.Error("[scheduler] cycle panicked: %v\n%s", r, debug.Stack())
		}
		s.mu.Lock()
		s.lastRun = &run
		s.mu.Unlock()
	}()

	pending, err := s.drainer.CountPending(ctx)
	if err != nil {
		run.Err = err
		s.logger.Error("[scheduler] probing pending entries: %v", err)
		return
	}
	run.Pending = pending
	if pending == 0 {
		s.logger.Verbose("[scheduler] queue empty")
		return
	}

	run.Result = s.drainer.DrainBatch(ctx, s.batchSize)
	s.logger.Info("[scheduler] %d pending: processed=%d succeeded=%d failed=%d",
		pending, run.Result.Processed, run.Result.Succeeded, run.Result.Failed)
}

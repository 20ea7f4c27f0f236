package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/mailq/internal/logging"
	"github.com/vvka-141/mailq/internal/retry"
	"github.com/vvka-141/mailq/internal/store/memory"
	"github.com/vvka-141/mailq/pkg/mailq"
)

var epoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// scriptedTransport returns the queued errors in order, then nil.
type scriptedTransport struct {
	mu      sync.Mutex
	results []error
	sent    []*mailq.Message
	configs []*mailq.DeliveryConfig
	sendFn  func(ctx context.Context, msg *mailq.Message) error
}

func (t *scriptedTransport) Send(ctx context.Context, cfg *mailq.DeliveryConfig, msg *mailq.Message) error {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.configs = append(t.configs, cfg)
	fn := t.sendFn
	var err error
	if len(t.results) > 0 {
		err = t.results[0]
		t.results = t.results[1:]
	}
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, msg)
	}
	return err
}

func (t *scriptedTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type recorderStub struct {
	mu       sync.Mutex
	enqueued []string
	attempts []string
	drains   []mailq.DrainResult
	pending  []int
}

func (r *recorderStub) Enqueued(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, category)
}

func (r *recorderStub) Attempted(category, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, outcome)
}

func (r *recorderStub) Drained(result mailq.DrainResult, took time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drains = append(r.drains, result)
}

func (r *recorderStub) PendingObserved(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, n)
}

type fixture struct {
	svc       *Service
	store     *memory.Store
	resolver  *memory.Resolver
	transport *scriptedTransport
	clock     *fakeClock
	logger    *logging.MemoryLogger
	recorder  *recorderStub
}

func activeConfig(scope string) *mailq.DeliveryConfig {
	return &mailq.DeliveryConfig{
		Scope:       scope,
		Host:        "smtp.example.com",
		Port:        587,
		FromAddress: "noreply@example.com",
		Active:      true,
	}
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		store:     memory.NewStore(),
		resolver:  memory.NewResolver(activeConfig("main")),
		transport: &scriptedTransport{},
		clock:     &fakeClock{now: epoch},
		logger:    logging.NewMemoryLogger(),
		recorder:  &recorderStub{},
	}
	base := []Option{
		WithClock(f.clock),
		WithRecorder(f.recorder),
		WithBackoff(retry.NewDelayTable(mailq.DefaultMaxAttempts)),
	}
	f.svc = NewService(f.store, f.resolver, f.transport, f.logger, append(base, opts...)...)
	return f
}

func (f *fixture) enqueue(t *testing.T, req mailq.EnqueueRequest) *mailq.Entry {
	t.Helper()
	if req.Recipient == "" {
		req.Recipient = "guest@example.com"
	}
	if req.Subject == "" {
		req.Subject = "Your reservation"
	}
	if req.Scope == "" {
		req.Scope = "main"
	}
	id, err := f.svc.Enqueue(context.Background(), req)
	require.NoError(t, err)
	return f.get(t, id)
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *mailq.Entry {
	t.Helper()
	got, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return got
}

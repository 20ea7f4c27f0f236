package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOperation fails with a transient error until failUntil invocations.
type mockOperation struct {
	invocations  int
	failUntil    int
	transientErr error
}

func (m *mockOperation) execute(ctx context.Context) error {
	m.invocations++
	if m.invocations < m.failUntil {
		if m.transientErr != nil {
			return m.transientErr
		}
		return &pgconn.PgError{Code: "08006", Message: "connection failure"}
	}
	return nil
}

func fastBackoff(maxAttempts int) *ExponentialBackoff {
	return NewExponentialBackoff(maxAttempts, WithInitialDelay(time.Millisecond), WithJitter(0))
}

func TestExecutor_SuccessOnFirstAttempt(t *testing.T) {
	executor := NewExecutor(NewPostgreSQLErrorClassifier(), fastBackoff(3))
	op := &mockOperation{failUntil: 1}

	require.NoError(t, executor.Execute(context.Background(), op.execute))
	assert.Equal(t, 1, op.invocations)
}

func TestExecutor_SuccessAfterRetries(t *testing.T) {
	executor := NewExecutor(NewPostgreSQLErrorClassifier(), fastBackoff(5))
	op := &mockOperation{failUntil: 4}

	require.NoError(t, executor.Execute(context.Background(), op.execute))
	assert.Equal(t, 4, op.invocations)
}

func TestExecutor_FatalErrorNoRetry(t *testing.T) {
	executor := NewExecutor(NewPostgreSQLErrorClassifier(), fastBackoff(5))
	fatalErr := &pgconn.PgError{Code: "42601", Message: "syntax error"}
	op := &mockOperation{failUntil: 99, transientErr: fatalErr}

	err := executor.Execute(context.Background(), op.execute)

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "42601", pgErr.Code)
	assert.Equal(t, 1, op.invocations)
}

func TestExecutor_ExhaustedRetries(t *testing.T) {
	executor := NewExecutor(NewPostgreSQLErrorClassifier(), fastBackoff(3))
	op := &mockOperation{failUntil: 999}

	require.Error(t, executor.Execute(context.Background(), op.execute))
	assert.Equal(t, 4, op.invocations, "1 initial + 3 retries")
}

func TestExecutor_NoRetriesStrategy(t *testing.T) {
	executor := NewExecutor(NewPostgreSQLErrorClassifier(), fastBackoff(0))
	op := &mockOperation{failUntil: 999}

	require.Error(t, executor.Execute(context.Background(), op.execute))
	assert.Equal(t, 1, op.invocations)
}

func TestExecutor_ContextCancellation(t *testing.T) {
	executor := NewExecutor(NewPostgreSQLErrorClassifier(),
		NewExponentialBackoff(10, WithInitialDelay(time.Second)))
	ctx, cancel := context.WithCancel(context.Background())
	op := &mockOperation{failUntil: 999}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := executor.Execute(ctx, op.execute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, op.invocations)
}

func TestExecutor_OnRetryCallback(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	executor := NewExecutor(NewPostgreSQLErrorClassifier(), fastBackoff(3)).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			assert.Error(t, err)
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		})
	op := &mockOperation{failUntil: 4}

	require.NoError(t, executor.Execute(context.Background(), op.execute))
	assert.Equal(t, []int{0, 1, 2}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, delays)
}

func TestExecutor_WithOnRetryDoesNotMutateReceiver(t *testing.T) {
	base := NewExecutor(NewPostgreSQLErrorClassifier(), fastBackoff(1))
	_ = base.WithOnRetry(func(int, error, time.Duration) {})
	assert.Nil(t, base.onRetry)
}

func TestExecutor_DelayTableStrategy(t *testing.T) {
	executor := NewExecutor(ConnectivityClassifier{}, NewDelayTable(2, time.Millisecond))
	calls := 0

	err := executor.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestNewExecutor_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewExecutor(nil, fastBackoff(1)) })
	assert.Panics(t, func() { NewExecutor(NewPostgreSQLErrorClassifier(), nil) })
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}

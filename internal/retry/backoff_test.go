package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vvka-141/mailq/pkg/mailq"
)

func TestDelayTable_DefaultTable(t *testing.T) {
	table := NewDelayTable(5)

	want := []time.Duration{
		1 * time.Minute,
		2 * time.Minute,
		5 * time.Minute,
		10 * time.Minute,
		30 * time.Minute,
	}
	for attempt, d := range want {
		assert.Equal(t, d, table.NextDelay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 5, table.MaxAttempts())
}

func TestDelayTable_ClampsToLastEntry(t *testing.T) {
	table := NewDelayTable(10, time.Second, 3*time.Second)

	assert.Equal(t, time.Second, table.NextDelay(-1))
	assert.Equal(t, 3*time.Second, table.NextDelay(1))
	assert.Equal(t, 3*time.Second, table.NextDelay(7))
	assert.Equal(t, 3*time.Second, table.NextDelay(1000))
}

func TestDelayTable_CopiesInput(t *testing.T) {
	delays := []time.Duration{time.Second}
	table := NewDelayTable(1, delays...)
	delays[0] = time.Hour

	assert.Equal(t, time.Second, table.NextDelay(0))

	got := table.Delays()
	got[0] = time.Hour
	assert.Equal(t, time.Second, table.NextDelay(0))
}

func TestDelayTable_DoesNotAliasDefaults(t *testing.T) {
	table := NewDelayTable(5)
	d := table.Delays()
	d[0] = 0
	assert.Equal(t, time.Minute, mailq.DefaultRetryDelays[0])
}

func TestDelayTable_PanicsOnNegativeDelay(t *testing.T) {
	assert.Panics(t, func() { NewDelayTable(3, time.Second, -time.Second) })
}

func TestExponentialBackoff_NextDelay_WithoutJitter(t *testing.T) {
	b := NewExponentialBackoff(5, WithInitialDelay(100*time.Millisecond), WithJitter(0))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoff_MaxDelayCap(t *testing.T) {
	b := NewExponentialBackoff(-1,
		WithInitialDelay(time.Second),
		WithMaxDelay(mailq.DefaultRetryMaxDelay),
		WithJitter(0),
	)

	for attempt := 0; attempt < 50; attempt++ {
		assert.LessOrEqual(t, b.NextDelay(attempt), mailq.DefaultRetryMaxDelay)
	}
	assert.Equal(t, -1, b.MaxAttempts())
}

func TestExponentialBackoff_Jitter(t *testing.T) {
	tests := []struct {
		name   string
		random float64
		want   time.Duration
	}{
		{"lowest", 0.0, 900 * time.Millisecond},
		{"middle", 0.5, 1000 * time.Millisecond},
		{"high", 0.75, 1050 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewExponentialBackoff(3,
				WithInitialDelay(time.Second),
				WithJitter(0.1),
				WithJitterFunc(func() float64 { return tt.random }),
			)
			assert.Equal(t, tt.want, b.NextDelay(0))
		})
	}
}

func TestExponentialBackoff_Multiplier(t *testing.T) {
	b := NewExponentialBackoff(3, WithInitialDelay(10*time.Millisecond), WithMultiplier(3), WithJitter(0))
	assert.Equal(t, 90*time.Millisecond, b.NextDelay(2))
}

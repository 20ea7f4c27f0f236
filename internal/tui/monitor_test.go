package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/mailq/pkg/mailq"
)

type mockSource struct {
	StatsFunc func(ctx context.Context) (mailq.QueueStats, error)
	ListFunc  func(ctx context.Context, f mailq.ListFilter) ([]*mailq.Entry, error)
}

func (m *mockSource) Stats(ctx context.Context) (mailq.QueueStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return mailq.QueueStats{}, nil
}

func (m *mockSource) List(ctx context.Context, f mailq.ListFilter) ([]*mailq.Entry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	return nil, nil
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func sampleEntries() []*mailq.Entry {
	return []*mailq.Entry{
		{
			ID:            uuid.New(),
			Recipient:     "a@example.com",
			Scope:         "billing",
			State:         mailq.StatePending,
			AttemptCount:  2,
			MaxAttempts:   10,
			NextAttemptAt: time.Now().Add(time.Minute),
			LastError:     "451 try\nlater",
		},
		{
			ID:          uuid.New(),
			Recipient:   "b@example.com",
			State:       mailq.StateSent,
			MaxAttempts: 10,
		},
	}
}

func TestNewMonitor_PanicsOnNilSource(t *testing.T) {
	assert.Panics(t, func() { NewMonitor(nil) })
}

func TestMonitor_RefreshQueriesSource(t *testing.T) {
	var gotFilter mailq.ListFilter
	src := &mockSource{
		StatsFunc: func(ctx context.Context) (mailq.QueueStats, error) {
			return mailq.QueueStats{Pending: 1, Sent: 1, Total: 2}, nil
		},
		ListFunc: func(ctx context.Context, f mailq.ListFilter) ([]*mailq.Entry, error) {
			gotFilter = f
			return sampleEntries(), nil
		},
	}
	m := NewMonitor(src, WithEntryLimit(20), WithScope("billing"))

	msg := m.refresh()()
	snap, ok := msg.(snapshotMsg)
	require.True(t, ok)
	require.NoError(t, snap.err)
	assert.Equal(t, mailq.ListFilter{Scope: "billing", Limit: 20}, gotFilter)

	updated, cmd := m.Update(snap)
	assert.Nil(t, cmd)
	mon := updated.(Monitor)
	assert.False(t, mon.loading)
	assert.Equal(t, 2, mon.stats.Total)
	require.Len(t, mon.table.Rows(), 2)
	assert.Equal(t, "pending", mon.table.Rows()[0][1])
	assert.Equal(t, "2/10", mon.table.Rows()[0][2])
	assert.Equal(t, "451 try later", mon.table.Rows()[0][6])
	assert.Empty(t, mon.table.Rows()[1][5], "terminal entries have no next attempt")

	view := mon.View()
	assert.Contains(t, view, "pending 1")
	assert.Contains(t, view, "scope: billing")
}

func TestMonitor_StatsErrorKeepsPreviousSnapshot(t *testing.T) {
	m := NewMonitor(&mockSource{})
	updated, _ := m.Update(snapshotMsg{stats: mailq.QueueStats{Sent: 3, Total: 3}, at: time.Now()})
	updated, _ = updated.(Monitor).Update(snapshotMsg{err: errors.New("connection reset"), at: time.Now()})

	mon := updated.(Monitor)
	assert.Equal(t, 3, mon.stats.Sent)
	assert.Contains(t, mon.View(), "connection reset")
}

func TestMonitor_SourceErrorSkipsList(t *testing.T) {
	listed := false
	src := &mockSource{
		StatsFunc: func(ctx context.Context) (mailq.QueueStats, error) {
			return mailq.QueueStats{}, errors.New("boom")
		},
		ListFunc: func(ctx context.Context, f mailq.ListFilter) ([]*mailq.Entry, error) {
			listed = true
			return nil, nil
		},
	}
	snap := NewMonitor(src).refresh()().(snapshotMsg)
	assert.EqualError(t, snap.err, "boom")
	assert.False(t, listed)
}

func TestMonitor_FilterCyclesStates(t *testing.T) {
	var filters []mailq.State
	src := &mockSource{
		ListFunc: func(ctx context.Context, f mailq.ListFilter) ([]*mailq.Entry, error) {
			filters = append(filters, f.State)
			return nil, nil
		},
	}
	var model tea.Model = NewMonitor(src)
	for range len(stateFilters) {
		var cmd tea.Cmd
		model, cmd = model.Update(runeKey('f'))
		require.NotNil(t, cmd)
		cmd()
	}

	assert.Equal(t, []mailq.State{
		mailq.StatePending, mailq.StateFailed, mailq.StateSent, mailq.StateCancelled, "",
	}, filters)
	assert.Contains(t, model.View(), "filter: all")
}

func TestMonitor_QuitKey(t *testing.T) {
	m := NewMonitor(&mockSource{})
	updated, cmd := m.Update(runeKey('q'))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, updated.View())
}

func TestMonitor_RefreshKeySetsLoading(t *testing.T) {
	m := NewMonitor(&mockSource{})
	m.loading = false
	updated, cmd := m.Update(runeKey('r'))
	require.NotNil(t, cmd)
	assert.True(t, updated.(Monitor).loading)
	_, ok := cmd().(snapshotMsg)
	assert.True(t, ok)
}

func TestMonitor_TickSchedulesRefresh(t *testing.T) {
	m := NewMonitor(&mockSource{}, WithRefreshInterval(time.Millisecond))
	updated, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	assert.True(t, updated.(Monitor).loading)
}

func TestMonitor_WindowResize(t *testing.T) {
	m := NewMonitor(&mockSource{})
	before := m.table.Height()
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 200, Height: 40})
	assert.Greater(t, updated.(Monitor).table.Height(), before)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.True(t, strings.HasSuffix(truncate(strings.Repeat("x", 50), 40), "…"))
}

func TestPromptContinue(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"\n", true},
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"nope\n", false},
	}
	for _, tt := range tests {
		var out strings.Builder
		assert.Equal(t, tt.want, promptContinue(strings.NewReader(tt.input), &out, "Overwrite?"), "input %q", tt.input)
		assert.Contains(t, out.String(), "Overwrite? [Y/n]")
	}
}

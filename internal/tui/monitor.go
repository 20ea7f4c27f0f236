package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// Source is what the monitor reads. queue.Service satisfies it.
type Source interface {
	Stats(ctx context.Context) (mailq.QueueStats, error)
	List(ctx context.Context, f mailq.ListFilter) ([]*mailq.Entry, error)
}

const (
	DefaultMonitorInterval = 2 * time.Second
	DefaultMonitorLimit    = 50

	monitorQueryTimeout = 10 * time.Second
)

// stateFilters is the cycle order of the filter key. The empty state means all.
var stateFilters = []mailq.State{"", mailq.StatePending, mailq.StateFailed, mailq.StateSent, mailq.StateCancelled}

type snapshotMsg struct {
	stats   mailq.QueueStats
	entries []*mailq.Entry
	err     error
	at      time.Time
}

type tickMsg time.Time

// Monitor is a bubbletea model showing queue counters and recent entries.
type Monitor struct {
	source   Source
	interval time.Duration
	limit    int
	scope    string
	keys     KeyMap

	table   table.Model
	spinner spinner.Model

	filter    int
	stats     mailq.QueueStats
	entries   []*mailq.Entry
	err       error
	loading   bool
	updatedAt time.Time
	quitting  bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithRefreshInterval sets the auto refresh period.
func WithRefreshInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithEntryLimit sets how many entries are listed.
func WithEntryLimit(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithScope restricts the entry list to one scope.
func WithScope(scope string) MonitorOption {
	return func(m *Monitor) {
		m.scope = scope
	}
}

// NewMonitor creates the monitor model.
func NewMonitor(source Source, opts ...MonitorOption) Monitor {
	if source == nil {
		panic("source cannot be nil")
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	t := table.New(
		table.WithColumns(monitorColumns()),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorSecondary).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(ColorPrimary)
	t.SetStyles(styles)

	m := Monitor{
		source:   source,
		interval: DefaultMonitorInterval,
		limit:    DefaultMonitorLimit,
		keys:     DefaultKeyMap(),
		table:    t,
		spinner:  s,
		loading:  true,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func monitorColumns() []table.Column {
	return []table.Column{
		{Title: "ID", Width: 36},
		{Title: "State", Width: 10},
		{Title: "Tries", Width: 6},
		{Title: "Scope", Width: 12},
		{Title: "Recipient", Width: 28},
		{Title: "Next attempt", Width: 16},
		{Title: "Last error", Width: 40},
	}
}

func (m Monitor) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh(), m.tick())
}

func (m Monitor) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh queries the source off the UI goroutine.
func (m Monitor) refresh() tea.Cmd {
	source := m.source
	filter := mailq.ListFilter{
		State: stateFilters[m.filter],
		Scope: m.scope,
		Limit: m.limit,
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), monitorQueryTimeout)
		defer cancel()

		msg := snapshotMsg{at: time.Now()}
		msg.stats, msg.err = source.Stats(ctx)
		if msg.err != nil {
			return msg
		}
		msg.entries, msg.err = source.List(ctx, filter)
		return msg
	}
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			return m, m.refresh()
		case key.Matches(msg, m.keys.Filter):
			m.filter = (m.filter + 1) % len(stateFilters)
			m.loading = true
			return m, m.refresh()
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		if h := msg.Height - 10; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case snapshotMsg:
		m.loading = false
		m.updatedAt = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.entries = msg.entries
			m.table.SetRows(entryRows(msg.entries))
		}
		return m, nil

	case tickMsg:
		m.loading = true
		return m, tea.Batch(m.refresh(), m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Monitor) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("mailq monitor"))
	b.WriteString("\n")
	b.WriteString(m.statsLine())
	b.WriteString("\n\n")

	status := MutedStyle.Render("filter: " + filterLabel(stateFilters[m.filter]))
	if m.scope != "" {
		status += MutedStyle.Render("  scope: " + m.scope)
	}
	if m.loading {
		status += "  " + m.spinner.View()
	} else if !m.updatedAt.IsZero() {
		status += MutedStyle.Render("  updated " + m.updatedAt.Format("15:04:05"))
	}
	b.WriteString(status)
	b.WriteString("\n")

	b.WriteString(m.table.View())
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render(SymbolCross + " " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(HelpStyle.Render(m.keys.HelpText()))
	return b.String()
}

func (m Monitor) statsLine() string {
	s := m.stats
	parts := []string{
		StateStyle(mailq.StatePending).Render(fmt.Sprintf("pending %d", s.Pending)),
		StateStyle(mailq.StateSent).Render(fmt.Sprintf("sent %d", s.Sent)),
		StateStyle(mailq.StateFailed).Render(fmt.Sprintf("failed %d", s.Failed)),
		StateStyle(mailq.StateCancelled).Render(fmt.Sprintf("cancelled %d", s.Cancelled)),
	}
	if s.Stuck > 0 {
		parts = append(parts, ErrorStyle.Bold(true).Render(fmt.Sprintf("stuck %d", s.Stuck)))
	}
	parts = append(parts, SubtitleStyle.Render(fmt.Sprintf("total %d", s.Total)))
	return BoxStyle.Render(strings.Join(parts, "  "+SymbolBullet+"  "))
}

func filterLabel(s mailq.State) string {
	if s == "" {
		return "all"
	}
	return string(s)
}

func entryRows(entries []*mailq.Entry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		next := ""
		if e.State == mailq.StatePending {
			next = e.NextAttemptAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, table.Row{
			e.ID.String(),
			string(e.State),
			fmt.Sprintf("%d/%d", e.AttemptCount, e.MaxAttempts),
			truncate(e.Scope, 12),
			truncate(e.Recipient, 28),
			next,
			truncate(oneLine(e.LastError), 40),
		})
	}
	return rows
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RunMonitor runs the monitor until the user quits or ctx ends.
func RunMonitor(ctx context.Context, source Source, opts ...MonitorOption) error {
	p := tea.NewProgram(NewMonitor(source, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

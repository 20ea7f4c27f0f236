package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/vvka-141/mailq/internal/tui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the queue live in the terminal",
	Long: `Monitor shows the entry counts per state and the most recent entries,
refreshing every --interval. Press f to cycle the state filter, r to refresh
and q to quit.

Monitor requires an interactive terminal.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorInterval time.Duration
	monitorLimit    int
	monitorScope    string
)

func init() {
	rootCmd.AddCommand(monitorCmd)
	addConnectionFlags(monitorCmd, &connFlags)
	registerFlagCompletions(monitorCmd)

	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", tui.DefaultMonitorInterval, "Refresh period")
	monitorCmd.Flags().IntVar(&monitorLimit, "limit", tui.DefaultMonitorLimit, "Entries to show")
	monitorCmd.Flags().StringVar(&monitorScope, "scope", "", "Only show entries of this scope")
}

var errNotInteractive = errors.New("monitor requires an interactive terminal; use 'mailq stats' or 'mailq list' instead")

func runMonitor(cmd *cobra.Command, args []string) error {
	if !tui.IsInteractive() {
		return errNotInteractive
	}

	env, h, cleanup, err := openQueueUntimed(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	return tui.RunMonitor(env.ctx, h.service,
		tui.WithRefreshInterval(monitorInterval),
		tui.WithEntryLimit(monitorLimit),
		tui.WithScope(monitorScope),
	)
}

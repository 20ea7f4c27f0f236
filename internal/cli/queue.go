package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vvka-141/mailq/internal/tui"
	"github.com/vvka-141/mailq/internal/ui"
	"github.com/vvka-141/mailq/pkg/mailq"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Print the number of entries still to be delivered",
	Long: `Pending prints how many entries are pending with attempts left,
whether or not their next attempt is due yet.`,
	Args: cobra.NoArgs,
	RunE: runPending,
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run one delivery pass now",
	Long: `Drain attempts up to --batch due entries once and prints the result.
Use it from cron instead of 'mailq run', or to flush the queue by hand.

Examples:
  mailq drain
  mailq drain --batch 100`,
	Args: cobra.NoArgs,
	RunE: runDrain,
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Fail pending entries whose attempts are exhausted",
	Long: `Repair closes entries left pending with no attempts remaining. They occur
when the process stops after claiming a final attempt but before recording
its outcome. 'mailq run' repairs on start unless queue.repair_on_start is false.`,
	Args: cobra.NoArgs,
	RunE: runRepair,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts per state",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, newest first",
	Long: `List shows queue entries newest first.

Examples:
  mailq list
  mailq list --state failed --scope billing
  mailq list --limit 100 --offset 100 --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <entry_id>",
	Short: "Show one entry",
	Args:  RequireEntryID,
	RunE:  runShow,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [entry_id]",
	Short: "Cancel a pending entry, or every pending entry of a scope",
	Long: `Cancel moves pending entries to the cancelled state. Entries that are already
sent, failed or cancelled are left alone.

Cancelling a whole scope requires confirmation: type the scope name when
prompted, or pass --force to skip the prompt after a countdown.

Examples:
  mailq cancel 0192f4a6-7c1e-7d3a-9b1f-2f4c8e6a1b2c
  mailq cancel --scope billing
  mailq cancel --scope billing --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCancel,
}

var (
	drainBatch int

	outputJSON bool
	showBody   bool

	listState  string
	listScope  string
	listLimit  int
	listOffset int

	cancelScope string
	cancelForce bool
)

func init() {
	for _, c := range []*cobra.Command{pendingCmd, drainCmd, repairCmd, statsCmd, listCmd, showCmd, cancelCmd} {
		rootCmd.AddCommand(c)
		addConnectionFlags(c, &connFlags)
	}

	drainCmd.Flags().IntVar(&drainBatch, "batch", 0,
		"Maximum entries to attempt (default: queue.batch_size)")

	for _, c := range []*cobra.Command{statsCmd, listCmd, showCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	}
	showCmd.Flags().BoolVar(&showBody, "body", false, "Include the message body")

	listCmd.Flags().StringVar(&listState, "state", "", "Only entries in this state (pending, sent, failed, cancelled)")
	listCmd.Flags().StringVar(&listScope, "scope", "", "Only entries of this scope")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum entries to show")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Entries to skip")

	cancelCmd.Flags().StringVar(&cancelScope, "scope", "", "Cancel every pending entry of this scope")
	cancelCmd.Flags().BoolVar(&cancelForce, "force", false,
		"Skip the interactive confirmation for --scope\n"+
			"A countdown still gives a chance to abort with Ctrl+C")

	for _, c := range []*cobra.Command{pendingCmd, drainCmd, repairCmd, statsCmd, listCmd, showCmd, cancelCmd} {
		registerFlagCompletions(c)
	}
}

func runPending(cmd *cobra.Command, args []string) error {
	env, h, cleanup, err := openQueueForCommand(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := h.service.CountPending(env.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func runDrain(cmd *cobra.Command, args []string) error {
	env, h, cleanup, err := openQueueForCommand(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	batch := h.settings.BatchSize
	if drainBatch > 0 {
		batch = drainBatch
	}

	start := time.Now()
	result := h.service.DrainBatch(env.ctx, batch)
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d, sent %d, failed %d\n", result.Processed, result.Succeeded, result.Failed)
	env.logger.Verbose("Drain took %v", time.Since(start).Round(time.Millisecond))
	return env.ctx.Err()
}

func runRepair(cmd *cobra.Command, args []string) error {
	env, h, cleanup, err := openQueueForCommand(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := h.service.Repair(env.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "repaired %d\n", n)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	env, h, cleanup, err := openQueueForCommand(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := h.service.Stats(env.ctx)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), stats)
	}
	writeStats(cmd.OutOrStdout(), stats)
	return nil
}

// listFilterFromFlags validates the list flags.
func listFilterFromFlags() (mailq.ListFilter, error) {
	f := mailq.ListFilter{Scope: listScope, Limit: listLimit, Offset: listOffset}
	if listState != "" {
		st, err := mailq.ParseState(listState)
		if err != nil {
			return mailq.ListFilter{}, err
		}
		f.State = st
	}
	if f.Limit <= 0 {
		return mailq.ListFilter{}, fmt.Errorf("--limit must be positive, got %d: %w", f.Limit, mailq.ErrInvalidConfig)
	}
	if f.Offset < 0 {
		return mailq.ListFilter{}, fmt.Errorf("--offset cannot be negative: %w", mailq.ErrInvalidConfig)
	}
	return f, nil
}

func runList(cmd *cobra.Command, args []string) error {
	filter, err := listFilterFromFlags()
	if err != nil {
		return err
	}

	env, h, cleanup, err := openQueueForCommand(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := h.service.List(env.ctx, filter)
	if err != nil {
		return err
	}
	if outputJSON {
		views := make([]entryView, 0, len(entries))
		for _, e := range entries {
			views = append(views, newEntryView(e, false))
		}
		return writeJSON(cmd.OutOrStdout(), views)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "No entries found")
		return nil
	}
	return writeEntryTable(cmd.OutOrStdout(), entries)
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseEntryID(args[0])
	if err != nil {
		return err
	}

	env, h, cleanup, err := openQueueForCommand(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	e, err := h.service.Get(env.ctx, id)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), newEntryView(e, showBody))
	}
	writeEntryDetail(cmd.OutOrStdout(), e, showBody)
	return nil
}

// selectApprover picks the confirmation strategy for bulk cancellation.
func selectApprover(force, interactive, verbose bool) (mailq.Approver, error) {
	switch {
	case force:
		return ui.NewForcedApprover(verbose), nil
	case interactive:
		return ui.NewInteractiveApprover(verbose), nil
	default:
		return nil, fmt.Errorf("cancelling a scope needs confirmation; use --force in non-interactive mode: %w", mailq.ErrApprovalDenied)
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	switch {
	case cancelScope != "" && len(args) > 0:
		return errors.New("invalid argument: pass either <entry_id> or --scope, not both")
	case cancelScope == "":
		if err := RequireEntryID(cmd, args); err != nil {
			return err
		}
		return cancelEntry(cmd, args[0])
	}

	approver, err := selectApprover(cancelForce, tui.IsInteractive(), getVerboseFlag(cmd))
	if err != nil {
		return err
	}
	approved, err := approver.RequestApproval(cmd.Context(), "cancel every pending entry of scope", cancelScope)
	if err != nil {
		return err
	}
	if !approved {
		return fmt.Errorf("cancel scope %q: %w", cancelScope, mailq.ErrApprovalDenied)
	}

	env, h, cleanup, err := openQueueForCommand(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := h.service.CancelScope(env.ctx, cancelScope)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d\n", n)
	return nil
}

func cancelEntry(cmd *cobra.Command, arg string) error {
	id, err := parseEntryID(arg)
	if err != nil {
		return err
	}

	env, h, cleanup, err := openQueueForCommand(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if h.service.Cancel(env.ctx, id) {
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", id)
		return nil
	}

	e, err := h.service.Get(env.ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("entry %s is %s; only pending entries can be cancelled", id, e.State)
}

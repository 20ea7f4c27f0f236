package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vvka-141/mailq/internal/config"
	"github.com/vvka-141/mailq/internal/metrics"
	"github.com/vvka-141/mailq/internal/scheduler"
)

// schedulerStopTimeout bounds how long shutdown waits for an in-flight cycle.
const schedulerStopTimeout = time.Minute

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the delivery scheduler",
	Long: `Run drains the queue in the background until interrupted.

The run command:
1. Connects to the queue database
2. Closes pending entries whose attempts are exhausted (unless --no-repair)
3. Waits the startup delay, then drains one batch per interval
4. Serves Prometheus metrics on /metrics when metrics.listen or --metrics-listen is set

SIGINT or SIGTERM stops the loop after the current cycle.

Examples:
  mailq run
  mailq run --interval 30s --batch 50 --metrics-listen :9464
  mailq run --startup-delay 0 -v`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

type runFlagValues struct {
	metricsListen string
	noRepair      bool
	interval      time.Duration
	startupDelay  time.Duration
	batch         int
}

var runFlags runFlagValues

func init() {
	rootCmd.AddCommand(runCmd)
	addConnectionFlags(runCmd, &connFlags)
	registerFlagCompletions(runCmd)

	runCmd.Flags().StringVar(&runFlags.metricsListen, "metrics-listen", "",
		"Address for the Prometheus endpoint (overrides metrics.listen)\n"+
			"Example: :9464")
	runCmd.Flags().BoolVar(&runFlags.noRepair, "no-repair", false,
		"Skip closing exhausted pending entries on start")
	runCmd.Flags().DurationVar(&runFlags.interval, "interval", 0,
		"Pause between drain cycles (overrides queue.interval, default 2m)")
	runCmd.Flags().DurationVar(&runFlags.startupDelay, "startup-delay", 0,
		"Delay before the first cycle (overrides queue.startup_delay, default 30s)")
	runCmd.Flags().IntVar(&runFlags.batch, "batch", 0,
		"Entries drained per cycle (overrides queue.batch_size, default 10)")
}

// applyRunOverrides applies the run flags that were set on top of the queue settings.
func applyRunOverrides(cmd *cobra.Command, s config.QueueSettings) config.QueueSettings {
	if cmd.Flags().Changed("interval") && runFlags.interval > 0 {
		s.Interval = runFlags.interval
	}
	if cmd.Flags().Changed("startup-delay") && runFlags.startupDelay >= 0 {
		s.StartupDelay = runFlags.startupDelay
	}
	if cmd.Flags().Changed("batch") && runFlags.batch > 0 {
		s.BatchSize = runFlags.batch
	}
	return s
}

func schedulerOptions(s config.QueueSettings) []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithInterval(s.Interval),
		scheduler.WithStartupDelay(s.StartupDelay),
		scheduler.WithBatchSize(s.BatchSize),
	}
}

func metricsListenAddr(project *config.ProjectConfig) string {
	if runFlags.metricsListen != "" {
		return runFlags.metricsListen
	}
	if project != nil {
		return project.Metrics.Listen
	}
	return ""
}

func runRun(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), 0, "stopping scheduler")
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	connectCtx, connectCancel := context.WithTimeout(ctx, env.timeout)
	h, err := env.openQueue(connectCtx, recorder)
	connectCancel()
	if err != nil {
		return err
	}
	defer h.close()

	if h.settings.RepairOnStart && !runFlags.noRepair {
		if _, err := h.service.Repair(ctx); err != nil {
			env.logger.Warn("Startup repair failed: %v", err)
		}
	}

	settings := applyRunOverrides(cmd, h.settings)
	sched := scheduler.New(h.service, env.logger, schedulerOptions(settings)...)
	env.logger.Verbose("Draining up to %d entries every %v, first cycle in %v",
		settings.BatchSize, settings.Interval, settings.StartupDelay)

	serverErr := make(chan error, 1)
	if addr := metricsListenAddr(env.project); addr != "" {
		srv := metrics.NewServer(addr, registry, recorder, h.service, env.logger)
		go func() {
			serverErr <- srv.Run(ctx)
		}()
	}

	sched.Start(ctx)
	env.logger.Info("mailq running, press Ctrl+C to stop")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("metrics server: %w", err)
		}
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), schedulerStopTimeout)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		env.logger.Error("%v", err)
	}
	if run, ok := sched.LastRun(); ok {
		env.logger.Verbose("Last cycle at %s: %d processed, %d sent, %d failed",
			run.At.Format(time.RFC3339), run.Result.Processed, run.Result.Succeeded, run.Result.Failed)
	}
	return runErr
}

package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/mailq/internal/config"
	"github.com/vvka-141/mailq/internal/logging"
	"github.com/vvka-141/mailq/internal/scheduler"
	"github.com/vvka-141/mailq/internal/store/memory"
)

func TestSchedulerOptions(t *testing.T) {
	resetFlags()
	t.Cleanup(func() {
		for _, name := range []string{"interval", "startup-delay", "batch"} {
			runCmd.Flags().Lookup(name).Changed = false
		}
		resetFlags()
	})

	settings := config.DefaultQueueSettings()
	assert.Equal(t, settings, applyRunOverrides(runCmd, settings))

	require.NoError(t, runCmd.Flags().Set("interval", "15s"))
	require.NoError(t, runCmd.Flags().Set("startup-delay", "0s"))
	require.NoError(t, runCmd.Flags().Set("batch", "25"))

	got := applyRunOverrides(runCmd, settings)
	assert.Equal(t, 15*time.Second, got.Interval)
	assert.Equal(t, time.Duration(0), got.StartupDelay)
	assert.Equal(t, 25, got.BatchSize)
	assert.Equal(t, settings.MaxAttempts, got.MaxAttempts)

	svc, _, err := buildService(nil, queueDeps{store: memory.NewStore(), transport: &mockTransport{}}, logging.NewNullLogger())
	require.NoError(t, err)
	s := scheduler.New(svc, logging.NewNullLogger(), schedulerOptions(got)...)
	assert.Equal(t, scheduler.StateStarting, s.State())
}

func TestMetricsListenAddr(t *testing.T) {
	resetFlags()
	assert.Empty(t, metricsListenAddr(nil))

	project := &config.ProjectConfig{Metrics: config.MetricsConfig{Listen: ":9464"}}
	assert.Equal(t, ":9464", metricsListenAddr(project))

	runFlags.metricsListen = "127.0.0.1:9000"
	assert.Equal(t, "127.0.0.1:9000", metricsListenAddr(project))
	resetFlags()
}

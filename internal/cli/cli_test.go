package cli

import (
	"bytes"
	"io"
	"testing"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// resetFlags restores every package-level flag value between command runs.
func resetFlags() {
	connFlags = connectionFlags{}
	enqueueFlags = enqueueFlagValues{}
	runFlags = runFlagValues{}
	deliveryFlags = deliveryFlagValues{
		provider: string(mailq.ProviderSMTP),
		port:     587,
		security: string(mailq.SecuritySTARTTLS),
	}
	initSkipCreate = false
	drainBatch = 0
	outputJSON = false
	showBody = false
	listState, listScope = "", ""
	listLimit, listOffset = 20, 0
	cancelScope, cancelForce = "", false
}

// executeCLI runs the root command with args and returns its stdout.
func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

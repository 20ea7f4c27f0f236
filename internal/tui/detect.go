package tui

import (
	"os"

	"golang.org/x/term"
)

// Mode is how mailq talks to the person (or process) running it.
type Mode int

const (
	// ModeNonInteractive covers the scheduler service, cron jobs, CI and pipes.
	ModeNonInteractive Mode = iota
	ModeInteractive
)

// NonInteractiveEnv forces non-interactive mode when set to "1".
const NonInteractiveEnv = "MAILQ_NON_INTERACTIVE"

// automationEnv lists variables whose presence means nobody is watching.
var automationEnv = []string{"CI", "NO_COLOR", "INVOCATION_ID"}

// DetectMode reports ModeInteractive only when both stdin and stdout are
// terminals and no automation marker is set. INVOCATION_ID is exported by
// systemd for units such as `mailq run`.
func DetectMode() Mode {
	if os.Getenv(NonInteractiveEnv) == "1" {
		return ModeNonInteractive
	}
	for _, name := range automationEnv {
		if os.Getenv(name) != "" {
			return ModeNonInteractive
		}
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return ModeNonInteractive
	}
	return ModeInteractive
}

func IsInteractive() bool {
	return DetectMode() == ModeInteractive
}

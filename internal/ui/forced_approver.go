package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// ForcedApprover approves after a visible countdown. It backs --force, so
// an operator still gets a few seconds to hit Ctrl+C.
type ForcedApprover struct {
	verbose bool
	output  io.Writer
	sleepFn func(time.Duration)
}

// NewForcedApprover creates a new ForcedApprover writing to stderr.
func NewForcedApprover(verbose bool) mailq.Approver {
	return &ForcedApprover{verbose: verbose, output: os.Stderr, sleepFn: time.Sleep}
}

func (a *ForcedApprover) RequestApproval(ctx context.Context, action, target string) (bool, error) {
	fmt.Fprintf(a.output, "\nDANGER: about to %s for '%s'. This cannot be undone.\n", action, target)

	countdownSeconds := int(mailq.DefaultForceApprovalCountdown.Seconds())
	for i := countdownSeconds; i > 0; i-- {
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(a.output)
			return false, err
		}
		fmt.Fprintf(a.output, "\rProceeding in: %d seconds... (Press Ctrl+C to cancel)", i)
		a.sleepFn(time.Second)
	}
	if err := ctx.Err(); err != nil {
		fmt.Fprintln(a.output)
		return false, err
	}

	fmt.Fprintf(a.output, "\r✓ Proceeding to %s...                              \n", action)
	return true, nil
}

var _ mailq.Approver = (*ForcedApprover)(nil)

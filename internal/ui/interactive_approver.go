package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// InteractiveApprover asks the operator to type the target name back
// before a bulk operation runs.
type InteractiveApprover struct {
	verbose bool
	input   io.Reader
	output  io.Writer
}

// NewInteractiveApprover creates a new InteractiveApprover on stdin/stderr.
func NewInteractiveApprover(verbose bool) mailq.Approver {
	return &InteractiveApprover{verbose: verbose, input: os.Stdin, output: os.Stderr}
}

func (a *InteractiveApprover) RequestApproval(ctx context.Context, action, target string) (bool, error) {
	fmt.Fprintf(a.output, "\n⚠️  WARNING: You are about to %s for '%s'\n", action, target)
	fmt.Fprintln(a.output, "Entries changed by this operation will never be delivered.")
	fmt.Fprintf(a.output, "\nTo confirm, type '%s' and press Enter: ", target)

	inputChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		reader := bufio.NewReader(a.input)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			errChan <- err
			return
		}
		inputChan <- strings.TrimSpace(line)
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errChan:
		return false, fmt.Errorf("failed to read input: %w", err)
	case input := <-inputChan:
		if input == target {
			fmt.Fprintln(a.output, "✓ Confirmed.")
			return true, nil
		}
		fmt.Fprintf(a.output, "✗ Input '%s' does not match '%s'. Operation cancelled.\n", input, target)
		return false, nil
	}
}

var _ mailq.Approver = (*InteractiveApprover)(nil)
